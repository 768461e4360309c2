package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomci/loom/loom/models"
	"github.com/loomci/loom/notifier"
)

func testDB(t *testing.T) (*DB, *notifier.Notifier) {
	t.Helper()
	d, err := Make(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	n := notifier.New()
	return d, &n
}

func TestPipelineLifecycle(t *testing.T) {
	d, n := testDB(t)

	p := Pipeline{
		Id:          "run-1",
		Repo:        "acme/core",
		Ref:         "refs/heads/main",
		Sha:         "deadbeef",
		TriggerKind: "push",
		Group:       "acme/core@refs/heads/main",
	}
	require.NoError(t, d.CreatePipeline(p, n))

	got, err := d.GetPipeline("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindPending, got.Status)
	assert.Empty(t, got.FinishedAt)

	require.NoError(t, d.MarkPipelineRunning("run-1", n))
	got, err = d.GetPipeline("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindRunning, got.Status)

	require.NoError(t, d.MarkPipelineFailed("run-1", 101, "clippy found warnings", n))
	got, err = d.GetPipeline("run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindFailed, got.Status)
	assert.Equal(t, 101, got.ExitCode)
	assert.Equal(t, "clippy found warnings", got.Error)
	assert.NotEmpty(t, got.FinishedAt)
}

func TestPipelineCancelled(t *testing.T) {
	d, n := testDB(t)

	require.NoError(t, d.CreatePipeline(Pipeline{Id: "run-2", Repo: "acme/core", Ref: "refs/heads/main", Sha: "cafe", TriggerKind: "push", Group: "g"}, n))
	require.NoError(t, d.MarkPipelineCancelled("run-2", n))

	got, err := d.GetPipeline("run-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindCancelled, got.Status)
	assert.NotEmpty(t, got.FinishedAt)
}

func TestStatusEventsCursor(t *testing.T) {
	d, n := testDB(t)

	wid := models.WorkflowId{
		PipelineId: models.PipelineId{Repo: "acme/core", Id: "run-3"},
		Name:       "check.yml",
	}

	require.NoError(t, d.StatusPending(wid, n))
	require.NoError(t, d.StatusRunning(wid, n))
	require.NoError(t, d.StatusSuccess(wid, n))

	evts, err := d.GetEvents(0)
	require.NoError(t, err)
	require.Len(t, evts, 3)

	// resume past the first two
	evts, err = d.GetEvents(evts[1].Id)
	require.NoError(t, err)
	require.Len(t, evts, 1)

	status, err := d.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSuccess, status.Status)
	assert.Equal(t, "check.yml", status.Workflow)
}

func TestEventsCursorSurvivesTimestampTies(t *testing.T) {
	d, n := testDB(t)

	// two transitions landing in the same nanosecond
	now := time.Now().UnixNano()
	require.NoError(t, d.InsertEvent(Event{Pipeline: "run-5", Workflow: "check.yml", Created: now, EventJson: "{}"}, n))
	require.NoError(t, d.InsertEvent(Event{Pipeline: "run-5", Workflow: "lint.yml", Created: now, EventJson: "{}"}, n))

	evts, err := d.GetEvents(0)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "check.yml", evts[0].Workflow)

	// resuming past the first must still deliver its nanosecond twin
	evts, err = d.GetEvents(evts[0].Id)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "lint.yml", evts[0].Workflow)
}

func TestStatusFailedCarriesExitCode(t *testing.T) {
	d, n := testDB(t)

	wid := models.WorkflowId{
		PipelineId: models.PipelineId{Repo: "acme/core", Id: "run-4"},
		Name:       "check.yml",
	}

	require.NoError(t, d.StatusFailed(wid, "step exited non-zero", 1, n))

	status, err := d.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindFailed, status.Status)
	require.NotNil(t, status.ExitCode)
	assert.EqualValues(t, 1, *status.ExitCode)
	require.NotNil(t, status.Error)
	assert.Equal(t, "step exited non-zero", *status.Error)
}
