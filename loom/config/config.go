package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:6585"`
	DBPath     string `env:"DB_PATH, default=loom.db"`
	Hostname   string `env:"HOSTNAME, required"`
	Owner      string `env:"OWNER, required"`
	Dev        bool   `env:"DEV, default=false"`

	// shared token webhook senders must present
	WebhookSecret string `env:"WEBHOOK_SECRET, required"`

	Secrets Secrets `env:",prefix=SECRETS_"`
}

type Secrets struct {
	Provider string        `env:"PROVIDER, default=sqlite"`
	OpenBao  OpenBaoConfig `env:",prefix=OPENBAO_"`
}

type OpenBaoConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=loom"`
}

type Pipelines struct {
	WorkflowTimeout string `env:"WORKFLOW_TIMEOUT, default=5m"`
	LogDir          string `env:"LOG_DIR, default=/var/log/loom"`
	QueueSize       int    `env:"QUEUE_SIZE, default=100"`
	Workers         int    `env:"WORKERS, default=2"`

	// extra runs-on labels, "label:image" pairs; merged over the
	// built-in set
	Runners map[string]string `env:"RUNNERS"`
}

type Config struct {
	Server    Server    `env:",prefix=LOOM_SERVER_"`
	Pipelines Pipelines `env:",prefix=LOOM_PIPELINES_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
