// an OpenBao (Vault KV v2) backed secret manager
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// OpenBaoManager stores each repo's secrets as one KV v2 entry keyed by
// the repo path under the configured mount.
type OpenBaoManager struct {
	client    *vault.Client
	mountPath string
	roleID    string
	secretID  string
	stopCh    chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

type OpenBaoManagerOpt func(*OpenBaoManager)

func WithMountPath(mountPath string) OpenBaoManagerOpt {
	return func(v *OpenBaoManager) {
		v.mountPath = mountPath
	}
}

func NewOpenBaoManager(address, roleID, secretID string, logger *slog.Logger, opts ...OpenBaoManagerOpt) (*OpenBaoManager, error) {
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if roleID == "" {
		return nil, fmt.Errorf("role_id cannot be empty")
	}
	if secretID == "" {
		return nil, fmt.Errorf("secret_id cannot be empty")
	}

	config := vault.DefaultConfig()
	config.Address = address

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create openbao client: %w", err)
	}

	err = authenticateAppRole(client, roleID, secretID)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with AppRole: %w", err)
	}

	manager := &OpenBaoManager{
		client:    client,
		mountPath: "loom", // default KV v2 mount path
		roleID:    roleID,
		secretID:  secretID,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(manager)
	}

	go manager.tokenRenewalLoop()

	return manager, nil
}

func authenticateAppRole(client *vault.Client, roleID, secretID string) error {
	authData := map[string]any{
		"role_id":   roleID,
		"secret_id": secretID,
	}

	resp, err := client.Logical().Write("auth/approle/login", authData)
	if err != nil {
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}

	if resp == nil || resp.Auth == nil {
		return fmt.Errorf("no auth info returned from AppRole login")
	}

	client.SetToken(resp.Auth.ClientToken)
	return nil
}

// Stop stops the token renewal goroutine
func (v *OpenBaoManager) Stop() {
	v.stopOnce.Do(func() {
		close(v.stopCh)
	})
}

// tokenRenewalLoop renews the token in the background, re-authenticating
// when renewal is no longer possible.
func (v *OpenBaoManager) tokenRenewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			if err := v.ensureValidToken(); err != nil {
				v.logger.Error("openbao token renewal failed", "error", err)
			}
		}
	}
}

func (v *OpenBaoManager) ensureValidToken() error {
	secret, err := v.client.Auth().Token().LookupSelf()
	if err != nil {
		// token is gone, start over
		return authenticateAppRole(v.client, v.roleID, v.secretID)
	}

	ttl, err := secret.TokenTTL()
	if err != nil {
		return fmt.Errorf("failed to read token ttl: %w", err)
	}

	if ttl < 2*time.Minute {
		if _, err := v.client.Auth().Token().RenewSelf(0); err != nil {
			return authenticateAppRole(v.client, v.roleID, v.secretID)
		}
	}

	return nil
}

func (v *OpenBaoManager) AddSecret(ctx context.Context, secret UnlockedSecret) error {
	if !isValidKey(secret.Key) {
		return ErrInvalidKeyIdent
	}

	data, err := v.repoData(ctx, secret.Repo)
	if err != nil {
		return err
	}

	data[secret.Key] = secret.Value

	_, err = v.client.KVv2(v.mountPath).Put(ctx, string(secret.Repo), data)
	if err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	return nil
}

func (v *OpenBaoManager) RemoveSecret(ctx context.Context, repo Repo, key string) error {
	data, err := v.repoData(ctx, repo)
	if err != nil {
		return err
	}

	if _, ok := data[key]; !ok {
		return ErrKeyNotFound
	}
	delete(data, key)

	if len(data) == 0 {
		if err := v.client.KVv2(v.mountPath).Delete(ctx, string(repo)); err != nil {
			return fmt.Errorf("failed to delete secret: %w", err)
		}
		return nil
	}

	_, err = v.client.KVv2(v.mountPath).Put(ctx, string(repo), data)
	if err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}

	return nil
}

func (v *OpenBaoManager) GetSecretsLocked(ctx context.Context, repo Repo) ([]LockedSecret, error) {
	unlocked, err := v.GetSecretsUnlocked(ctx, repo)
	if err != nil {
		return nil, err
	}

	var locked []LockedSecret
	for _, u := range unlocked {
		locked = append(locked, Lock(u))
	}
	return locked, nil
}

func (v *OpenBaoManager) GetSecretsUnlocked(ctx context.Context, repo Repo) ([]UnlockedSecret, error) {
	data, err := v.repoData(ctx, repo)
	if err != nil {
		return nil, err
	}

	var secrets []UnlockedSecret
	for k, val := range data {
		value, ok := val.(string)
		if !ok {
			continue
		}
		secrets = append(secrets, UnlockedSecret{
			Key:   k,
			Value: value,
			Repo:  repo,
		})
	}

	return secrets, nil
}

// repoData reads the repo's KV entry; a missing entry is an empty map.
func (v *OpenBaoManager) repoData(ctx context.Context, repo Repo) (map[string]any, error) {
	kv, err := v.client.KVv2(v.mountPath).Get(ctx, string(repo))
	if err != nil {
		// KV v2 returns a 404 for unknown paths
		return map[string]any{}, nil
	}
	if kv == nil || kv.Data == nil {
		return map[string]any{}, nil
	}
	return kv.Data, nil
}
