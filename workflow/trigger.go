package workflow

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// Trigger is the metadata of the event that started a pipeline. Exactly
// one of Push, PullRequest or Manual is set, matching Kind.
type Trigger struct {
	Kind        TriggerKind       `json:"kind"`
	Repo        *TriggerRepo      `json:"repo"`
	Push        *PushEvent        `json:"push,omitempty"`
	PullRequest *PullRequestEvent `json:"pull_request,omitempty"`
	Manual      *ManualEvent      `json:"manual,omitempty"`
}

type TriggerRepo struct {
	Name          string `json:"name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

type PushEvent struct {
	Ref    string `json:"ref"`
	OldSha string `json:"old_sha"`
	NewSha string `json:"new_sha"`
}

type PullRequestEvent struct {
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	SourceSha    string `json:"source_sha"`
}

type ManualEvent struct {
	Ref string `json:"ref"`
	Sha string `json:"sha"`
}

// Ref returns the git ref this trigger acts on. Used for checkout and
// as half of the default concurrency group key.
func (t *Trigger) Ref() string {
	switch {
	case t.Push != nil:
		return t.Push.Ref
	case t.PullRequest != nil:
		return string(plumbing.NewBranchReferenceName(t.PullRequest.SourceBranch))
	case t.Manual != nil && t.Manual.Ref != "":
		return t.Manual.Ref
	case t.Repo != nil:
		return string(plumbing.NewBranchReferenceName(t.Repo.DefaultBranch))
	}
	return ""
}

// Sha returns the commit the pipeline must build.
func (t *Trigger) Sha() (string, error) {
	switch t.Kind {
	case TriggerKindPush:
		if t.Push == nil {
			return "", fmt.Errorf("push trigger metadata is nil")
		}
		return t.Push.NewSha, nil

	case TriggerKindPullRequest:
		if t.PullRequest == nil {
			return "", fmt.Errorf("pull request trigger metadata is nil")
		}
		return t.PullRequest.SourceSha, nil

	case TriggerKindManual:
		if t.Manual == nil {
			return "", fmt.Errorf("manual trigger metadata is nil")
		}
		// empty means HEAD of the ref
		return t.Manual.Sha, nil

	default:
		return "", fmt.Errorf("unknown trigger kind: %s", t.Kind)
	}
}

func (t *Trigger) Validate() error {
	if t.Repo == nil {
		return fmt.Errorf("no repo data found")
	}

	switch t.Kind {
	case TriggerKindPush:
		if t.Push == nil {
			return fmt.Errorf("push trigger without push data")
		}
	case TriggerKindPullRequest:
		if t.PullRequest == nil {
			return fmt.Errorf("pull_request trigger without pull request data")
		}
	case TriggerKindManual:
		if t.Manual == nil {
			return fmt.Errorf("manual trigger without manual data")
		}
	default:
		return fmt.Errorf("unknown trigger kind: %s", t.Kind)
	}

	return nil
}
