package rbac

import (
	"database/sql"
	"slices"
	"strings"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const (
	ThisServer = "thisserver" // resource identifier for local rbac enforcement
)

const (
	Model = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.act == p.act && r.dom == p.dom && r.obj == p.obj && g(r.sub, p.sub, r.dom)
`
)

type Enforcer struct {
	E *casbin.Enforcer
}

func NewEnforcer(path string) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1")
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(db, "sqlite3", "acl")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, a)
	if err != nil {
		return nil, err
	}

	e.EnableAutoSave(false)

	return &Enforcer{e}, nil
}

// AddServer seeds the domain-level policies for a server. Members may
// trigger pipelines on any registered repo, owners may additionally
// invite members.
func (e *Enforcer) AddServer(server string) error {
	_, err := e.E.AddPolicies([][]string{
		{"server:owner", server, server, "server:invite"},
		{"server:member", server, server, "pipeline:trigger"},
	})
	if err != nil {
		return err
	}

	// all owners are also members
	_, err = e.E.AddGroupingPolicy("server:owner", "server:member", server)
	return err
}

func (e *Enforcer) RemoveServer(server string) error {
	_, err := e.E.DeleteDomains(server)
	return err
}

func (e *Enforcer) AddOwner(domain, owner string) error {
	_, err := e.E.AddGroupingPolicy(owner, "server:owner", domain)
	return err
}

func (e *Enforcer) RemoveOwner(domain, owner string) error {
	_, err := e.E.RemoveGroupingPolicy(owner, "server:owner", domain)
	return err
}

func (e *Enforcer) AddMember(domain, member string) error {
	_, err := e.E.AddGroupingPolicy(member, "server:member", domain)
	return err
}

func (e *Enforcer) RemoveMember(domain, member string) error {
	_, err := e.E.RemoveGroupingPolicy(member, "server:member", domain)
	return err
}

func repoPolicies(admin, domain, repo string) [][]string {
	return [][]string{
		{admin, domain, repo, "repo:admin"},
		{admin, domain, repo, "pipeline:trigger"},
		{admin, domain, repo, "pipeline:cancel"},
		{admin, domain, repo, "secret:admin"},
		{"server:owner", domain, repo, "secret:admin"}, // server owner can manage any repo's secrets
		{"server:owner", domain, repo, "pipeline:cancel"},
	}
}

func (e *Enforcer) AddRepo(admin, domain, repo string) error {
	err := checkRepoFormat(repo)
	if err != nil {
		return err
	}

	_, err = e.E.AddPolicies(repoPolicies(admin, domain, repo))
	return err
}

func (e *Enforcer) RemoveRepo(admin, domain, repo string) error {
	err := checkRepoFormat(repo)
	if err != nil {
		return err
	}

	_, err = e.E.RemovePolicies(repoPolicies(admin, domain, repo))
	return err
}

var (
	collaboratorPolicies = func(collaborator, domain, repo string) [][]string {
		return [][]string{
			{collaborator, domain, repo, "repo:collaborator"},
			{collaborator, domain, repo, "pipeline:trigger"},
			{collaborator, domain, repo, "pipeline:cancel"},
		}
	}
)

func (e *Enforcer) AddCollaborator(collaborator, domain, repo string) error {
	err := checkRepoFormat(repo)
	if err != nil {
		return err
	}

	_, err = e.E.AddPolicies(collaboratorPolicies(collaborator, domain, repo))
	return err
}

func (e *Enforcer) RemoveCollaborator(collaborator, domain, repo string) error {
	err := checkRepoFormat(repo)
	if err != nil {
		return err
	}

	_, err = e.E.RemovePolicies(collaboratorPolicies(collaborator, domain, repo))
	return err
}

func (e *Enforcer) GetUserByRole(role, domain string) ([]string, error) {
	var membersWithoutRoles []string

	// this includes roles too, casbin does not differentiate.
	// the filtering criteria is to drop the role vocabulary itself
	members, err := e.E.GetImplicitUsersForRole(role, domain)
	for _, m := range members {
		if !strings.HasPrefix(m, "server:") {
			membersWithoutRoles = append(membersWithoutRoles, m)
		}
	}
	if err != nil {
		return nil, err
	}

	slices.Sort(membersWithoutRoles)
	return slices.Compact(membersWithoutRoles), nil
}

func (e *Enforcer) GetUserByRoleInRepo(role, domain, repo string) ([]string, error) {
	var users []string

	policies, err := e.E.GetImplicitUsersForResourceByDomain(repo, domain)
	for _, p := range policies {
		user := p[0]
		if !strings.HasPrefix(user, "server:") {
			users = append(users, user)
		}
	}
	if err != nil {
		return nil, err
	}

	slices.Sort(users)
	return slices.Compact(users), nil
}

func (e *Enforcer) IsOwner(user, domain string) (bool, error) {
	return e.isRole(user, "server:owner", domain)
}

func (e *Enforcer) IsMember(user, domain string) (bool, error) {
	return e.isRole(user, "server:member", domain)
}

func (e *Enforcer) IsInviteAllowed(user, domain string) (bool, error) {
	return e.E.Enforce(user, domain, domain, "server:invite")
}

// IsTriggerAllowed reports whether user may request a manual pipeline
// run for repo. Membership grants it domain-wide, collaborators get it
// per repo.
func (e *Enforcer) IsTriggerAllowed(user, domain, repo string) (bool, error) {
	ok, err := e.E.Enforce(user, domain, domain, "pipeline:trigger")
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return e.E.Enforce(user, domain, repo, "pipeline:trigger")
}

func (e *Enforcer) IsCancelAllowed(user, domain, repo string) (bool, error) {
	return e.E.Enforce(user, domain, repo, "pipeline:cancel")
}

func (e *Enforcer) IsSecretAdmin(user, domain, repo string) (bool, error) {
	return e.E.Enforce(user, domain, repo, "secret:admin")
}

// given a repo, what permissions does this user have? repo:admin? secret:admin? etc.
func (e *Enforcer) GetPermissionsInRepo(user, domain, repo string) []string {
	var permissions []string
	res := e.E.GetPermissionsForUserInDomain(user, domain)
	for _, p := range res {
		// get only permissions for this resource/repo
		if p[2] == repo {
			permissions = append(permissions, p[3])
		}
	}

	return permissions
}
