package loom

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/uuid"

	"github.com/loomci/loom/loom/db"
	"github.com/loomci/loom/loom/models"
	"github.com/loomci/loom/loom/queue"
	"github.com/loomci/loom/workflow"
)

const workflowDir = ".loom/workflows"

// processTrigger turns a validated trigger into a pipeline run: fetch
// the repo's workflow files at the triggering commit, compile them,
// record pending statuses and enqueue the run under its concurrency
// group.
func (s *Loom) processTrigger(ctx context.Context, trigger workflow.Trigger) (*db.Pipeline, workflow.Diagnostics, error) {
	raw, err := s.fetchWorkflows(ctx, trigger)
	if err != nil {
		return nil, workflow.Diagnostics{}, fmt.Errorf("fetching workflows: %w", err)
	}

	compiler := workflow.Compiler{
		Trigger: trigger,
		Runners: s.runners,
	}
	cp := compiler.Compile(compiler.Parse(raw))

	if compiler.Diagnostics.IsErr() {
		return nil, compiler.Diagnostics, fmt.Errorf("workflow compilation failed")
	}
	if len(cp.Workflows) == 0 {
		// nothing matched this trigger
		return nil, compiler.Diagnostics, nil
	}

	sha, err := trigger.Sha()
	if err != nil {
		return nil, compiler.Diagnostics, err
	}

	pid := models.PipelineId{
		Repo: trigger.Repo.Name,
		Id:   uuid.New().String(),
	}

	row := db.Pipeline{
		Id:          pid.Id,
		Repo:        pid.Repo,
		Ref:         trigger.Ref(),
		Sha:         sha,
		TriggerKind: string(trigger.Kind),
		Group:       cp.Group,
	}
	if err := s.db.CreatePipeline(row, s.n); err != nil {
		return nil, compiler.Diagnostics, fmt.Errorf("recording pipeline: %w", err)
	}

	for _, w := range cp.Workflows {
		wid := models.WorkflowId{PipelineId: pid, Name: w.Name}
		if err := s.db.StatusPending(wid, s.n); err != nil {
			return nil, compiler.Diagnostics, err
		}
	}

	ok := s.jq.Enqueue(queue.Job{
		Group: cp.Group,
		Run: func(jobCtx context.Context) error {
			return s.runner.StartPipeline(jobCtx, &cp, pid)
		},
		OnFail: func(jobError error) {
			s.l.Error("pipeline run failed", "id", pid.Id, "error", jobError)
		},
		OnCancel: func() {
			s.markCancelled(pid, cp)
		},
	})
	if !ok {
		s.markCancelled(pid, cp)
		return nil, compiler.Diagnostics, fmt.Errorf("queue is full")
	}
	s.l.Info("pipeline enqueued", "id", pid.Id, "repo", pid.Repo, "group", cp.Group)

	return &row, compiler.Diagnostics, nil
}

// markCancelled records a run that was superseded or shed before the
// runner could finish it. Transitions already made terminal by the
// runner are left alone.
func (s *Loom) markCancelled(pid models.PipelineId, cp workflow.Compiled) {
	p, err := s.db.GetPipeline(pid.Id)
	if err != nil {
		s.l.Error("failed to load pipeline for cancellation", "id", pid.Id, "error", err)
		return
	}
	if p.Status.Terminal() {
		return
	}

	if err := s.db.MarkPipelineCancelled(pid.Id, s.n); err != nil {
		s.l.Error("failed to mark pipeline cancelled", "id", pid.Id, "error", err)
	}
	for _, w := range cp.Workflows {
		wid := models.WorkflowId{PipelineId: pid, Name: w.Name}
		status, err := s.db.GetStatus(wid)
		if err == nil && status.Status.Terminal() {
			continue
		}
		if err := s.db.StatusCancelled(wid, s.n); err != nil {
			s.l.Error("failed to mark workflow cancelled", "workflow", wid, "error", err)
		}
	}
}

// fetchWorkflows reads .loom/workflows/*.yml from the repo at the
// triggering commit via a shallow in-memory clone. Results are cached
// per repo and commit; a repeat delivery of the same event never
// clones twice.
func (s *Loom) fetchWorkflows(ctx context.Context, trigger workflow.Trigger) (workflow.RawPipeline, error) {
	sha, err := trigger.Sha()
	if err != nil {
		return nil, err
	}

	cacheKey := trigger.Repo.Name + "@" + sha
	if sha != "" {
		if v, found := s.wfCache.Get(cacheKey); found {
			return v.(workflow.RawPipeline), nil
		}
	}

	fs := memfs.New()
	repo, err := gogit.CloneContext(ctx, memory.NewStorage(), fs, &gogit.CloneOptions{
		URL:           trigger.Repo.CloneURL,
		ReferenceName: plumbing.ReferenceName(trigger.Ref()),
		SingleBranch:  true,
		Depth:         1,
		Tags:          gogit.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", trigger.Repo.CloneURL, err)
	}

	if sha != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, err
		}
		if err := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(sha)}); err != nil {
			// shallow clone may not carry the commit anymore; the tip
			// is the best we can do
			s.l.Warn("commit not reachable, using branch tip", "repo", trigger.Repo.Name, "sha", sha, "error", err)
		}
	}

	entries, err := fs.ReadDir(workflowDir)
	if err != nil {
		// no workflow dir means no pipeline
		return nil, nil
	}

	var raw workflow.RawPipeline
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}

		contents, err := util.ReadFile(fs, path.Join(workflowDir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		raw = append(raw, workflow.RawWorkflow{Name: name, Contents: contents})
	}

	if sha != "" {
		s.wfCache.Set(cacheKey, raw, int64(rawSize(raw)))
	}

	return raw, nil
}

func rawSize(raw workflow.RawPipeline) int {
	n := 1
	for _, w := range raw {
		n += len(w.Contents)
	}
	return n
}

func newWorkflowCache() *ristretto.Cache {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters:            1e4,
		MaxCost:                1 << 26,
		BufferItems:            64,
		TtlTickerDurationInSec: 120,
	})
	return cache
}
