package loom

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomci/loom/loom/db"
)

func TestStreamBackfillThenLive(t *testing.T) {
	s := testServer(t)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	insert := func(workflow string) {
		t.Helper()
		require.NoError(t, s.db.InsertEvent(db.Event{
			Pipeline:  "run-1",
			Workflow:  workflow,
			Created:   time.Now().UnixNano(),
			EventJson: "{}",
		}, s.n))
	}

	// already in the log before the client connects
	insert("check.yml")
	insert("lint.yml")

	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	readEvent := func() db.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev db.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	// backfill arrives in insertion order
	assert.Equal(t, "check.yml", readEvent().Workflow)
	assert.Equal(t, "lint.yml", readEvent().Workflow)

	// a new event pushes through live
	insert("release.yml")
	assert.Equal(t, "release.yml", readEvent().Workflow)
}
