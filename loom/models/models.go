package models

import (
	"fmt"
	"regexp"
)

var (
	re = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

// PipelineId identifies a single run of a repo's pipeline.
type PipelineId struct {
	Repo string
	Id   string
}

func (p PipelineId) String() string {
	return fmt.Sprintf("%s-%s", normalize(p.Repo), p.Id)
}

type WorkflowId struct {
	PipelineId
	Name string
}

func (wid WorkflowId) String() string {
	return fmt.Sprintf("%s-%s-%s", normalize(wid.Repo), wid.Id, normalize(wid.Name))
}

func normalize(name string) string {
	normalized := re.ReplaceAllString(name, "-")
	return normalized
}

type StatusKind string

const (
	StatusKindPending   StatusKind = "pending"
	StatusKindRunning   StatusKind = "running"
	StatusKindFailed    StatusKind = "failed"
	StatusKindTimeout   StatusKind = "timeout"
	StatusKindCancelled StatusKind = "cancelled"
	StatusKindSuccess   StatusKind = "success"
)

// Terminal reports whether no further transition can follow.
func (s StatusKind) Terminal() bool {
	switch s {
	case StatusKindFailed, StatusKindTimeout, StatusKindCancelled, StatusKindSuccess:
		return true
	}
	return false
}
