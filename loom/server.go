package loom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dgraph-io/ristretto"
	"github.com/go-chi/chi/v5"

	"github.com/loomci/loom/log"
	"github.com/loomci/loom/loom/config"
	"github.com/loomci/loom/loom/db"
	"github.com/loomci/loom/loom/engine"
	"github.com/loomci/loom/loom/engines/docker"
	"github.com/loomci/loom/loom/models"
	"github.com/loomci/loom/loom/queue"
	"github.com/loomci/loom/loom/secrets"
	"github.com/loomci/loom/notifier"
	"github.com/loomci/loom/rbac"
	"github.com/loomci/loom/workflow"
)

const (
	rbacDomain = rbac.ThisServer
)

type Loom struct {
	db      *db.DB
	e       *rbac.Enforcer
	l       *slog.Logger
	n       *notifier.Notifier
	sm      secrets.Manager
	runner  *engine.Runner
	jq      *queue.Queue
	cfg     *config.Config
	runners map[string]string
	wfCache *ristretto.Cache
}

func Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	e, err := rbac.NewEnforcer(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup rbac enforcer: %w", err)
	}
	e.E.EnableAutoSave(true)

	n := notifier.New()

	sm, err := newSecretsManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to setup secrets manager: %w", err)
	}
	if stopper, ok := sm.(secrets.Stopper); ok {
		defer stopper.Stop()
	}

	eng, err := docker.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to setup docker engine: %w", err)
	}

	runner := engine.NewRunner(ctx, eng, d, &n, sm, cfg.Pipelines.LogDir)

	jq := queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.Workers)

	loom := Loom{
		db:      d,
		e:       e,
		l:       logger,
		n:       &n,
		sm:      sm,
		runner:  runner,
		jq:      jq,
		cfg:     cfg,
		runners: docker.Runners(cfg),
		wfCache: newWorkflowCache(),
	}

	err = e.AddServer(rbacDomain)
	if err != nil {
		return fmt.Errorf("failed to set rbac domain: %w", err)
	}
	err = loom.configureOwner()
	if err != nil {
		return err
	}
	logger.Info("owner set", "user", cfg.Server.Owner)

	// starts the pipeline workers in the background
	jq.Start()
	defer jq.Stop()

	logger.Info("starting loom server", "address", cfg.Server.ListenAddr)
	logger.Error("server error", "error", http.ListenAndServe(cfg.Server.ListenAddr, loom.Router()))

	return nil
}

func newSecretsManager(cfg *config.Config, logger *slog.Logger) (secrets.Manager, error) {
	switch cfg.Server.Secrets.Provider {
	case "sqlite", "":
		return secrets.NewSQLiteManager(cfg.Server.DBPath)
	case "openbao":
		ob := cfg.Server.Secrets.OpenBao
		return secrets.NewOpenBaoManager(
			ob.Addr,
			ob.RoleID,
			ob.SecretID,
			logger,
			secrets.WithMountPath(ob.Mount),
		)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %q", cfg.Server.Secrets.Provider)
	}
}

func (s *Loom) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.RequestLogger)

	mux.Group(func(r chi.Router) {
		r.Use(s.VerifyWebhookSecret)
		r.Post("/events", s.Events)

		r.Route("/secrets", func(r chi.Router) {
			r.Get("/", s.ListSecrets)
			r.Put("/", s.PutSecret)
			r.Delete("/", s.DeleteSecret)
		})
	})

	mux.Get("/ws", s.Stream)
	mux.Get("/pipelines", s.Pipelines)
	mux.Get("/logs/{id}/{workflow}", s.Logs)
	mux.Get("/owner", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s.cfg.Server.Owner))
	})

	return mux
}

// Events ingests one trigger event and starts at most one pipeline.
func (s *Loom) Events(w http.ResponseWriter, r *http.Request) {
	var trigger workflow.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding trigger: %w", err))
		return
	}

	if err := trigger.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if trigger.Kind == workflow.TriggerKindManual {
		user := r.Header.Get("X-Loom-User")
		ok, err := s.e.IsTriggerAllowed(user, rbacDomain, trigger.Repo.Name)
		if err != nil || !ok {
			writeError(w, http.StatusForbidden, fmt.Errorf("user %q may not trigger pipelines for %s", user, trigger.Repo.Name))
			return
		}
	}

	row, diags, err := s.processTrigger(r.Context(), trigger)
	if err != nil {
		s.l.Error("failed to process trigger", "repo", trigger.Repo.Name, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       err.Error(),
			"diagnostics": diagStrings(diags),
		})
		return
	}

	if row == nil {
		// no workflow matched this trigger
		writeJSON(w, http.StatusOK, map[string]any{
			"skipped":     true,
			"diagnostics": diagStrings(diags),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"pipeline":    row,
		"diagnostics": diagStrings(diags),
	})
}

func (s *Loom) Pipelines(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		limit, _ = strconv.Atoi(q)
	}

	pipelines, err := s.db.GetPipelines(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, pipelines)
}

// Logs serves a workflow's JSON-lines log file.
func (s *Loom) Logs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "workflow")

	p, err := s.db.GetPipeline(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown pipeline: %s", id))
		return
	}

	wid := models.WorkflowId{
		PipelineId: models.PipelineId{Repo: p.Repo, Id: p.Id},
		Name:       name,
	}

	f, err := models.OpenLogFile(s.cfg.Pipelines.LogDir, wid)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no logs for workflow %s", name))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/jsonlines")
	io.Copy(w, f)
}

func (s *Loom) configureOwner() error {
	cfgOwner := s.cfg.Server.Owner
	serverOwner, err := s.e.GetUserByRole("server:owner", rbacDomain)
	if err != nil {
		return fmt.Errorf("failed to fetch server:owner: %w", err)
	}

	if len(serverOwner) == 0 {
		s.e.AddOwner(rbacDomain, cfgOwner)
	} else {
		if serverOwner[0] != cfgOwner {
			return fmt.Errorf("server owner mismatch: %s != %s", cfgOwner, serverOwner[0])
		}
	}
	return nil
}

func diagStrings(d workflow.Diagnostics) []string {
	var out []string
	for _, e := range d.Errors {
		out = append(out, e.String())
	}
	for _, w := range d.Warnings {
		out = append(out, w.String())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
