package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnmarshalWorkflow(t *testing.T) {
	yamlData := `
when:
  - event: ["push", "pull_request"]
    branch: ["main", "develop"]
runs-on: ubuntu-20.04`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err, "YAML should unmarshal without error")

	assert.Len(t, wf.When, 1, "Should have one constraint")
	assert.ElementsMatch(t, []string{"main", "develop"}, wf.When[0].Branch)
	assert.ElementsMatch(t, []string{"push", "pull_request"}, wf.When[0].Event)
	assert.Equal(t, "ubuntu-20.04", wf.RunsOn)

	assert.False(t, wf.CloneOpts.Skip, "Skip should default to false")
}

func TestUnmarshalCloneSkip(t *testing.T) {
	yamlData := `
when:
  - event: manual

clone:
  skip: true
`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err)

	assert.ElementsMatch(t, []string{"manual"}, wf.When[0].Event)
	assert.True(t, wf.CloneOpts.Skip)
}

func TestUnmarshalSteps(t *testing.T) {
	yamlData := `
steps:
  - name: Install protoc
    uses: setup-protoc@3.6.1
  - name: fmt
    run: cargo fmt --all --check
    environment:
      CARGO_TERM_COLOR: never
`

	wf, err := FromFile("test.yml", []byte(yamlData))
	assert.NoError(t, err)

	assert.Len(t, wf.Steps, 2)
	assert.Equal(t, "setup-protoc@3.6.1", wf.Steps[0].Uses)
	assert.Empty(t, wf.Steps[0].Run)
	assert.Equal(t, "cargo fmt --all --check", wf.Steps[1].Run)
	assert.Equal(t, "never", wf.Steps[1].Environment["CARGO_TERM_COLOR"])
}

func TestMatchPushBranch(t *testing.T) {
	wf := Workflow{
		When: []Constraint{
			{
				Event:  []string{"push"},
				Branch: []string{"main"},
			},
		},
	}

	tests := []struct {
		name    string
		trigger Trigger
		want    bool
	}{
		{
			name: "push to main matches",
			trigger: Trigger{
				Kind: TriggerKindPush,
				Push: &PushEvent{Ref: "refs/heads/main"},
			},
			want: true,
		},
		{
			name: "push to develop does not match",
			trigger: Trigger{
				Kind: TriggerKindPush,
				Push: &PushEvent{Ref: "refs/heads/develop"},
			},
			want: false,
		},
		{
			name: "tag push does not match a branch filter",
			trigger: Trigger{
				Kind: TriggerKindPush,
				Push: &PushEvent{Ref: "refs/tags/v1.0.0"},
			},
			want: false,
		},
		{
			name: "pull_request event does not match",
			trigger: Trigger{
				Kind:        TriggerKindPullRequest,
				PullRequest: &PullRequestEvent{TargetBranch: "main"},
			},
			want: false,
		},
		{
			name: "manual always matches",
			trigger: Trigger{
				Kind:   TriggerKindManual,
				Manual: &ManualEvent{},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wf.Match(tt.trigger))
		})
	}
}

func TestMatchAnyPullRequest(t *testing.T) {
	// no branch filter: any PR target matches
	wf := Workflow{
		When: []Constraint{
			{Event: []string{"pull_request"}},
		},
	}

	trigger := Trigger{
		Kind:        TriggerKindPullRequest,
		PullRequest: &PullRequestEvent{TargetBranch: "release-1.2"},
	}

	assert.True(t, wf.Match(trigger))
}

func TestMatchNoConstraints(t *testing.T) {
	wf := Workflow{}

	trigger := Trigger{
		Kind: TriggerKindPush,
		Push: &PushEvent{Ref: "refs/heads/anything"},
	}

	assert.True(t, wf.Match(trigger), "a workflow with no constraints always runs")
}

func TestTriggerRef(t *testing.T) {
	pr := Trigger{
		Kind:        TriggerKindPullRequest,
		Repo:        &TriggerRepo{DefaultBranch: "main"},
		PullRequest: &PullRequestEvent{SourceBranch: "feature", TargetBranch: "main"},
	}
	assert.Equal(t, "refs/heads/feature", pr.Ref())

	manual := Trigger{
		Kind:   TriggerKindManual,
		Repo:   &TriggerRepo{DefaultBranch: "main"},
		Manual: &ManualEvent{},
	}
	assert.Equal(t, "refs/heads/main", manual.Ref())
}
