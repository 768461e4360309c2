package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomci/loom/loom/config"
)

func TestConstructEnvs(t *testing.T) {
	envs := ConstructEnvs(map[string]string{
		"CARGO_TERM_COLOR": "always",
		"RUSTFLAGS":        "-D warnings",
	})
	envs.AddEnv("HOME", workspaceDir)

	assert.ElementsMatch(t, []string{
		"CARGO_TERM_COLOR=always",
		"RUSTFLAGS=-D warnings",
		"HOME=/loom/workspace",
	}, envs.Slice())
}

func TestRunnersMergesConfigOverDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipelines.Runners = map[string]string{
		"ubuntu-20.04": "registry.example.com/ci/focal:pinned",
		"rust-nightly": "registry.example.com/ci/rust:nightly",
	}

	runners := Runners(cfg)

	assert.Equal(t, "registry.example.com/ci/focal:pinned", runners["ubuntu-20.04"])
	assert.Equal(t, "registry.example.com/ci/rust:nightly", runners["rust-nightly"])
	assert.Equal(t, "docker.io/library/ubuntu:22.04", runners["ubuntu-22.04"])
}
