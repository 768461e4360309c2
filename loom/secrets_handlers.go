package loom

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loomci/loom/loom/secrets"
)

type secretInput struct {
	Repo  string `json:"repo"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

type secretOutput struct {
	Repo      string `json:"repo"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
	CreatedBy string `json:"created_by"`
}

// secretAdmin reports whether user may manage secrets for repo. Repo
// admins and collaborators hold the permission per repo, server
// members hold it everywhere.
func (s *Loom) secretAdmin(user, repo string) bool {
	if user == "" {
		return false
	}
	if ok, err := s.e.IsSecretAdmin(user, rbacDomain, repo); err == nil && ok {
		return true
	}
	ok, err := s.e.IsMember(user, rbacDomain)
	return err == nil && ok
}

func (s *Loom) PutSecret(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-Loom-User")

	var data secretInput
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := secrets.ValidateKey(data.Key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.secretAdmin(user, data.Repo) {
		writeError(w, http.StatusForbidden, fmt.Errorf("user %q may not manage secrets for %s", user, data.Repo))
		return
	}

	secret := secrets.UnlockedSecret{
		Repo:      secrets.Repo(data.Repo),
		Key:       data.Key,
		Value:     data.Value,
		CreatedAt: time.Now(),
		CreatedBy: user,
	}
	if err := s.sm.AddSecret(r.Context(), secret); err != nil {
		s.l.Error("failed to add secret", "user", user, "repo", data.Repo, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Loom) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-Loom-User")

	var data secretInput
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.secretAdmin(user, data.Repo) {
		writeError(w, http.StatusForbidden, fmt.Errorf("user %q may not manage secrets for %s", user, data.Repo))
		return
	}

	if err := s.sm.RemoveSecret(r.Context(), secrets.Repo(data.Repo), data.Key); err != nil {
		s.l.Error("failed to remove secret", "user", user, "repo", data.Repo, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Loom) ListSecrets(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-Loom-User")

	repo := r.URL.Query().Get("repo")
	if repo == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty repo param"))
		return
	}

	if !s.secretAdmin(user, repo) {
		writeError(w, http.StatusForbidden, fmt.Errorf("user %q may not list secrets for %s", user, repo))
		return
	}

	ls, err := s.sm.GetSecretsLocked(r.Context(), secrets.Repo(repo))
	if err != nil {
		s.l.Error("failed to list secrets", "user", user, "repo", repo, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]secretOutput, 0, len(ls))
	for _, l := range ls {
		out = append(out, secretOutput{
			Repo:      string(l.Repo),
			Key:       l.Key,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
			CreatedBy: l.CreatedBy,
		})
	}

	writeJSON(w, http.StatusOK, out)
}
