package rbac

import (
	"fmt"
	"slices"
	"strings"
)

func (e *Enforcer) GetDomainsForUser(user string) ([]string, error) {
	return e.E.GetDomainsForUser(user)
}

func (e *Enforcer) isRole(user, role, domain string) (bool, error) {
	roles, err := e.E.GetImplicitRolesForUser(user, domain)
	if err != nil {
		return false, err
	}
	if slices.Contains(roles, role) {
		return true, nil
	}
	return false, nil
}

func checkRepoFormat(repo string) error {
	// sanity check, repo must be of the form owner/name
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repo: %s", repo)
	}

	return nil
}
