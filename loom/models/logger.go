package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomci/loom/workflow"
)

// WorkflowLogger writes a workflow's output as JSON lines to a file
// under the configured log dir, one file per workflow run.
type WorkflowLogger struct {
	file    *os.File
	encoder *json.Encoder
}

func NewWorkflowLogger(baseDir string, wid WorkflowId) (*WorkflowLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, wid)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &WorkflowLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, wid WorkflowId) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.log", wid.String()))
}

func OpenLogFile(baseDir string, wid WorkflowId) (*os.File, error) {
	file, err := os.Open(LogFilePath(baseDir, wid))
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}

	return file, nil
}

func (l *WorkflowLogger) Close() error {
	return l.file.Close()
}

func (l *WorkflowLogger) DataWriter(idx int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		idx:    idx,
		stream: stream,
	}
}

func (l *WorkflowLogger) Control(idx int, step workflow.CompiledStep, status StatusKind) error {
	return l.encoder.Encode(NewControlLogLine(idx, step, status))
}

type dataWriter struct {
	logger *WorkflowLogger
	idx    int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	entry := NewDataLogLine(w.idx, line, w.stream)
	if err := w.logger.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(p), nil
}
