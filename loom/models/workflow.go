package models

import (
	"github.com/loomci/loom/workflow"
)

// Workflow is the engine-side view of a compiled workflow: an ordered
// step list plus whatever the engine stashed for itself in Data during
// InitWorkflow (image name, extra env, ...).
type Workflow struct {
	Name  string
	Steps []workflow.CompiledStep
	Data  any
}
