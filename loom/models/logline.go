package models

import (
	"github.com/loomci/loom/workflow"
)

// LogLine is one JSON-lines entry in a workflow log. Data lines carry a
// line of step output; control lines mark step transitions so a client
// can fold output under its step.
type LogLine struct {
	Type string `json:"type"` // "data" | "control"
	Step int    `json:"step"`

	// data lines
	Stream string `json:"stream,omitempty"` // "stdout" | "stderr"
	Data   string `json:"data,omitempty"`

	// control lines
	Name   string     `json:"name,omitempty"`
	Status StatusKind `json:"status,omitempty"`
}

func NewDataLogLine(idx int, line, stream string) LogLine {
	return LogLine{
		Type:   "data",
		Step:   idx,
		Stream: stream,
		Data:   line,
	}
}

func NewControlLogLine(idx int, step workflow.CompiledStep, status StatusKind) LogLine {
	return LogLine{
		Type:   "control",
		Step:   idx,
		Name:   step.Name,
		Status: status,
	}
}
