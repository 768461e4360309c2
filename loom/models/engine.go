package models

import (
	"context"
	"time"

	"github.com/loomci/loom/loom/secrets"
	"github.com/loomci/loom/workflow"
)

// Engine executes one workflow's steps in some isolated environment.
// The runner owns ordering, statuses and timeouts; the engine owns the
// environment.
type Engine interface {
	InitWorkflow(cwf workflow.CompiledWorkflow, cp *workflow.Compiled) (*Workflow, error)
	SetupWorkflow(ctx context.Context, wid WorkflowId, wf *Workflow) error
	WorkflowTimeout() time.Duration
	DestroyWorkflow(ctx context.Context, wid WorkflowId) error
	RunStep(ctx context.Context, wid WorkflowId, w *Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *WorkflowLogger) error
}
