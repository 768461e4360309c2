package workflow

import (
	"errors"
	"fmt"
	"strings"
)

type RawWorkflow struct {
	Name     string
	Contents []byte
}

type RawPipeline = []RawWorkflow

// Compiled is a fully resolved pipeline: every step is a shell command,
// every runner label is known, and the concurrency group is fixed.
// This is the only shape the runtime accepts.
type Compiled struct {
	Trigger   Trigger            `json:"trigger"`
	Group     string             `json:"group"`
	Workflows []CompiledWorkflow `json:"workflows"`
}

type CompiledWorkflow struct {
	Name        string            `json:"name"`
	RunsOn      string            `json:"runs_on"`
	Environment map[string]string `json:"environment,omitempty"`
	Steps       []CompiledStep    `json:"steps"`
}

type CompiledStep struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Kind        StepKind          `json:"kind"`
	Environment map[string]string `json:"environment,omitempty"`
}

type StepKind int

const (
	// steps injected by the CI runner
	StepKindSystem StepKind = iota
	// steps defined by the user in the original workflow file
	StepKindUser
)

type Compiler struct {
	Trigger Trigger

	// known runs-on labels; compilation fails for labels outside this set
	Runners map[string]string

	Diagnostics Diagnostics
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

var (
	MissingRunner error = errors.New("missing runs-on")
	UnknownRunner error = errors.New("unknown runs-on label")
	AmbiguousStep error = errors.New("step must set exactly one of `run` and `uses`")
)

type WarningKind string

var (
	WorkflowSkipped      WarningKind = "workflow skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
)

func (compiler *Compiler) Parse(p RawPipeline) Pipeline {
	var pp Pipeline

	for _, w := range p {
		wf, err := FromFile(w.Name, w.Contents)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			continue
		}

		pp = append(pp, wf)
	}

	return pp
}

// convert a repository's workflow files into a fully compiled pipeline
// that the runtime accepts
func (compiler *Compiler) Compile(p Pipeline) Compiled {
	cp := Compiled{
		Trigger: compiler.Trigger,
		Group:   compiler.defaultGroup(),
	}

	for _, wf := range p {
		cw := compiler.compileWorkflow(wf)

		if cw == nil {
			continue
		}

		if g := wf.Concurrency.Group; g != "" {
			if cp.Group != compiler.defaultGroup() && cp.Group != g {
				compiler.Diagnostics.AddWarning(
					wf.Name,
					InvalidConfiguration,
					fmt.Sprintf("conflicting concurrency groups, keeping %q", cp.Group),
				)
			} else {
				cp.Group = g
			}
		}

		cp.Workflows = append(cp.Workflows, *cw)
	}

	return cp
}

// defaultGroup keys a run by (repo, ref): a new run on a branch cancels
// the previous in-flight run of that branch.
func (compiler *Compiler) defaultGroup() string {
	repo := ""
	if compiler.Trigger.Repo != nil {
		repo = compiler.Trigger.Repo.Name
	}
	return repo + "@" + compiler.Trigger.Ref()
}

func (compiler *Compiler) compileWorkflow(w Workflow) *CompiledWorkflow {
	cw := &CompiledWorkflow{}

	if !w.Match(compiler.Trigger) {
		compiler.Diagnostics.AddWarning(
			w.Name,
			WorkflowSkipped,
			fmt.Sprintf("did not match trigger %s", compiler.Trigger.Kind),
		)
		return nil
	}

	// validate clone options
	compiler.analyzeCloneOptions(w)

	cw.Name = w.Name
	cw.Environment = w.Environment

	if w.RunsOn == "" {
		compiler.Diagnostics.AddError(w.Name, MissingRunner)
		return nil
	}
	if compiler.Runners != nil {
		if _, ok := compiler.Runners[w.RunsOn]; !ok {
			compiler.Diagnostics.AddError(w.Name, fmt.Errorf("%w: %q", UnknownRunner, w.RunsOn))
			return nil
		}
	}
	cw.RunsOn = w.RunsOn

	steps, ok := compiler.compileSteps(w)
	if !ok {
		return nil
	}
	cw.Steps = steps

	return cw
}

func (compiler *Compiler) compileSteps(w Workflow) ([]CompiledStep, bool) {
	var steps []CompiledStep
	explicitCheckout := false

	for _, s := range w.Steps {
		switch {
		case s.Run != "" && s.Uses != "", s.Run == "" && s.Uses == "":
			compiler.Diagnostics.AddError(w.Name, fmt.Errorf("%w: %q", AmbiguousStep, s.Name))
			return nil, false

		case s.Run != "":
			steps = append(steps, CompiledStep{
				Name:        s.Name,
				Command:     s.Run,
				Kind:        StepKindUser,
				Environment: s.Environment,
			})

		case s.Uses != "":
			name, _ := parseUses(s.Uses)
			if name == "checkout" {
				explicitCheckout = true
			}

			commands, err := ExpandAction(s.Uses, s.With, compiler.Trigger, w.CloneOpts)
			if err != nil {
				compiler.Diagnostics.AddError(w.Name, err)
				return nil, false
			}

			stepName := s.Name
			if stepName == "" {
				stepName = s.Uses
			}

			steps = append(steps, CompiledStep{
				Name:        stepName,
				Command:     strings.Join(commands, "\n"),
				Kind:        StepKindUser,
				Environment: s.Environment,
			})
		}
	}

	// workflows that never mention checkout still get the repo in their
	// workspace, unless they opted out
	if !explicitCheckout && !w.CloneOpts.Skip {
		commands, err := ExpandAction("checkout", nil, compiler.Trigger, w.CloneOpts)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			return nil, false
		}
		clone := CompiledStep{
			Name:    "Clone repository into workspace",
			Command: strings.Join(commands, "\n"),
			Kind:    StepKindSystem,
		}
		steps = append([]CompiledStep{clone}, steps...)
	}

	return steps, true
}

func (compiler *Compiler) analyzeCloneOptions(w Workflow) {
	if w.CloneOpts.Skip && w.CloneOpts.IncludeSubmodules {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.submodules`",
		)
	}

	if w.CloneOpts.Skip && w.CloneOpts.Depth > 0 {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.depth`",
		)
	}
}
