package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/loomci/loom/log"
	"github.com/loomci/loom/loom/config"
	"github.com/loomci/loom/loom/engine"
	"github.com/loomci/loom/loom/models"
	"github.com/loomci/loom/loom/secrets"
	"github.com/loomci/loom/workflow"
)

const (
	workspaceDir = "/loom/workspace"
)

// defaultRunners maps runs-on labels to pinned images. Extra labels
// come from config and are merged over this set.
var defaultRunners = map[string]string{
	"ubuntu-20.04": "docker.io/library/ubuntu:20.04",
	"ubuntu-22.04": "docker.io/library/ubuntu:22.04",
	"ubuntu-24.04": "docker.io/library/ubuntu:24.04",
}

// Runners returns the full label -> image map this engine can satisfy.
func Runners(cfg *config.Config) map[string]string {
	runners := make(map[string]string, len(defaultRunners))
	for label, img := range defaultRunners {
		runners[label] = img
	}
	for label, img := range cfg.Pipelines.Runners {
		runners[label] = img
	}
	return runners
}

type cleanupFunc func(context.Context) error

type Engine struct {
	docker  client.APIClient
	l       *slog.Logger
	cfg     *config.Config
	runners map[string]string

	cleanupMu sync.Mutex
	cleanup   map[string][]cleanupFunc
}

// addlFields is what the engine stashes in Workflow.Data.
type addlFields struct {
	image string
	env   map[string]string
}

func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	dcli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	l := log.FromContext(ctx).With("component", "docker")

	e := &Engine{
		docker:  dcli,
		l:       l,
		cfg:     cfg,
		runners: Runners(cfg),
	}

	e.cleanup = make(map[string][]cleanupFunc)

	return e, nil
}

func (e *Engine) InitWorkflow(cwf workflow.CompiledWorkflow, cp *workflow.Compiled) (*models.Workflow, error) {
	img, ok := e.runners[cwf.RunsOn]
	if !ok {
		return nil, fmt.Errorf("no image for runs-on label %q", cwf.RunsOn)
	}

	wf := &models.Workflow{
		Name:  cwf.Name,
		Steps: cwf.Steps,
		Data: addlFields{
			image: img,
			env:   cwf.Environment,
		},
	}

	return wf, nil
}

func (e *Engine) WorkflowTimeout() time.Duration {
	workflowTimeoutStr := e.cfg.Pipelines.WorkflowTimeout
	workflowTimeout, err := time.ParseDuration(workflowTimeoutStr)
	if err != nil {
		e.l.Error("failed to parse workflow timeout", "error", err, "timeout", workflowTimeoutStr)
		workflowTimeout = 5 * time.Minute
	}

	return workflowTimeout
}

// SetupWorkflow creates a workspace volume and a network for the
// workflow, then pulls the runner image. Volume and network persist
// across steps and are destroyed at the end of the workflow.
func (e *Engine) SetupWorkflow(ctx context.Context, wid models.WorkflowId, wf *models.Workflow) error {
	e.l.Info("setting up workflow", "workflow", wid)

	_, err := e.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   workspaceVolume(wid),
		Driver: "local",
	})
	if err != nil {
		return err
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.VolumeRemove(ctx, workspaceVolume(wid), true)
	})

	_, err = e.docker.NetworkCreate(ctx, networkName(wid), network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return err
	}
	e.registerCleanup(wid, func(ctx context.Context) error {
		return e.docker.NetworkRemove(ctx, networkName(wid))
	})

	addl := wf.Data.(addlFields)

	err = retry.Do(
		func() error {
			reader, err := e.docker.ImagePull(ctx, addl.image, image.PullOptions{})
			if err != nil {
				return err
			}
			defer reader.Close()
			_, err = io.Copy(os.Stdout, reader)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.OnRetry(func(n uint, err error) {
			e.l.Warn("retrying image pull", "image", addl.image, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		e.l.Error("image pull failed", "image", addl.image, "workflowId", wid, "error", err.Error())
		return fmt.Errorf("pulling image: %w", err)
	}

	return nil
}

func (e *Engine) RunStep(ctx context.Context, wid models.WorkflowId, w *models.Workflow, idx int, secrets []secrets.UnlockedSecret, wfLogger *models.WorkflowLogger) error {
	addl := w.Data.(addlFields)

	workflowEnvs := ConstructEnvs(addl.env)
	for _, s := range secrets {
		workflowEnvs.AddEnv(s.Key, s.Value)
	}

	step := w.Steps[idx]

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	envs := append(EnvVars(nil), workflowEnvs...)
	for k, v := range step.Environment {
		envs.AddEnv(k, v)
	}
	envs.AddEnv("HOME", workspaceDir)
	envs.AddEnv("DEBIAN_FRONTEND", "noninteractive")
	e.l.Debug("envs for step", "step", step.Name, "envs", envs.Slice())

	hostConfig := hostConfig(wid)
	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image:      addl.image,
		Cmd:        []string{"bash", "-c", step.Command},
		WorkingDir: workspaceDir,
		Tty:        false,
		Hostname:   "loom",
		Env:        envs.Slice(),
	}, hostConfig, nil, nil, "")
	defer e.DestroyStep(ctx, resp.ID)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	err = e.docker.NetworkConnect(ctx, networkName(wid), resp.ID, nil)
	if err != nil {
		return fmt.Errorf("connecting network: %w", err)
	}

	err = e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{})
	if err != nil {
		return err
	}
	e.l.Info("started container", "name", resp.ID, "step", step.Name)

	// start tailing logs in background
	tailDone := make(chan error, 1)
	go func() {
		tailDone <- e.tailStep(ctx, wfLogger, resp.ID, idx)
	}()

	// wait for container completion or timeout
	waitDone := make(chan struct{})
	var state *container.State
	var waitErr error

	go func() {
		defer close(waitDone)
		state, waitErr = e.WaitStep(ctx, resp.ID)
	}()

	select {
	case <-waitDone:

		// wait for tailing to complete
		<-tailDone

	case <-ctx.Done():
		e.l.Warn("step timed out; killing container", "container", resp.ID, "step", step.Name)
		err = e.DestroyStep(context.Background(), resp.ID)
		if err != nil {
			e.l.Error("failed to destroy step", "container", resp.ID, "error", err)
		}

		// wait for both goroutines to finish
		<-waitDone
		<-tailDone

		return engine.ErrTimedOut
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if waitErr != nil {
		return waitErr
	}

	err = e.DestroyStep(ctx, resp.ID)
	if err != nil {
		return err
	}

	if state.ExitCode != 0 {
		e.l.Error("step failed", "workflow_id", wid.String(), "step", step.Name, "error", state.Error, "exit_code", state.ExitCode, "oom_killed", state.OOMKilled)
		if state.OOMKilled {
			return engine.ErrOOMKilled
		}
		return &engine.StepError{Step: step.Name, ExitCode: int64(state.ExitCode)}
	}

	return nil
}

func (e *Engine) WaitStep(ctx context.Context, containerID string) (*container.State, error) {
	wait, errCh := e.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-wait:
	}

	e.l.Info("waited for container", "name", containerID)

	info, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return info.State, nil
}

func (e *Engine) tailStep(ctx context.Context, wfLogger *models.WorkflowLogger, containerID string, stepIdx int) error {
	if wfLogger == nil {
		return nil
	}

	logs, err := e.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		Follow:     true,
		ShowStdout: true,
		ShowStderr: true,
		Details:    false,
		Timestamps: false,
	})
	if err != nil {
		return err
	}

	_, err = stdcopy.StdCopy(
		&ansiStrippingWriter{wfLogger.DataWriter(stepIdx, "stdout")},
		&ansiStrippingWriter{wfLogger.DataWriter(stepIdx, "stderr")},
		logs,
	)
	if err != nil && err != io.EOF && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to copy logs: %w", err)
	}

	return nil
}

func (e *Engine) DestroyStep(ctx context.Context, containerID string) error {
	err := e.docker.ContainerKill(ctx, containerID, "9") // SIGKILL
	if err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	if err := e.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		RemoveLinks:   false,
		Force:         false,
	}); err != nil && !isErrContainerNotFoundOrNotRunning(err) {
		return err
	}

	return nil
}

func (e *Engine) DestroyWorkflow(ctx context.Context, wid models.WorkflowId) error {
	e.cleanupMu.Lock()
	key := wid.String()

	fns := e.cleanup[key]
	delete(e.cleanup, key)
	e.cleanupMu.Unlock()

	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			e.l.Error("failed to cleanup workflow resource", "workflowId", wid, "error", err)
		}
	}
	return nil
}

func (e *Engine) registerCleanup(wid models.WorkflowId, fn cleanupFunc) {
	e.cleanupMu.Lock()
	defer e.cleanupMu.Unlock()

	key := wid.String()
	e.cleanup[key] = append(e.cleanup[key], fn)
}

func workspaceVolume(wid models.WorkflowId) string {
	return fmt.Sprintf("workspace-%s", wid)
}

func networkName(wid models.WorkflowId) string {
	return fmt.Sprintf("workflow-network-%s", wid)
}

func hostConfig(wid models.WorkflowId) *container.HostConfig {
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: workspaceVolume(wid),
				Target: workspaceDir,
			},
			{
				Type:     mount.TypeTmpfs,
				Target:   "/tmp",
				ReadOnly: false,
				TmpfsOptions: &mount.TmpfsOptions{
					Mode: 0o1777, // world-writeable sticky bit
					Options: [][]string{
						{"exec"},
					},
				},
			},
		},
		ReadonlyRootfs: false,
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"CAP_DAC_OVERRIDE", "CAP_CHOWN", "CAP_SETUID", "CAP_SETGID"},
		SecurityOpt:    []string{"no-new-privileges"},
		ExtraHosts:     []string{"host.docker.internal:host-gateway"},
	}

	return hostConfig
}

// thanks woodpecker
func isErrContainerNotFoundOrNotRunning(err error) bool {
	// Error response from daemon: Cannot kill container: ...: No such container: ...
	// Error response from daemon: Cannot kill container: ...: Container ... is not running"
	// Error response from podman daemon: can only kill running containers. ... is in state exited
	// Error: No such container: ...
	return err != nil && (strings.Contains(err.Error(), "No such container") || strings.Contains(err.Error(), "is not running") || strings.Contains(err.Error(), "can only kill running containers"))
}
