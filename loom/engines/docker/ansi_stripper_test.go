package docker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripThrough(t *testing.T, input string) string {
	t.Helper()
	var buf bytes.Buffer
	w := &ansiStrippingWriter{underlying: &buf}
	_, err := w.Write([]byte(input))
	require.NoError(t, err)
	return buf.String()
}

func TestAnsiStripperPlainTextUnchanged(t *testing.T) {
	in := "[INFO] build finished (3 warnings); see notes"
	assert.Equal(t, in, stripThrough(t, in))
}

func TestAnsiStripperRemovesColorCodes(t *testing.T) {
	assert.Equal(t, "error", stripThrough(t, "\x1b[31merror\x1b[0m"))
	assert.Equal(t, "warning: unused variable", stripThrough(t, "\x1b[1;33mwarning\x1b[0m: unused variable"))
}

func TestAnsiStripperRemovesCursorMoves(t *testing.T) {
	assert.Equal(t, "done", stripThrough(t, "\x1b[2K\x1b[1Gdone"))
}
