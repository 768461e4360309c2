package rbac_test

import (
	"database/sql"
	"testing"

	"github.com/loomci/loom/rbac"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func setup(t *testing.T) *rbac.Enforcer {
	db, err := sql.Open("sqlite3", ":memory:")
	assert.NoError(t, err)

	a, err := adapter.NewAdapter(db, "sqlite3", "acl")
	assert.NoError(t, err)

	m, err := model.NewModelFromString(rbac.Model)
	assert.NoError(t, err)

	e, err := casbin.NewEnforcer(m, a)
	assert.NoError(t, err)

	e.EnableAutoSave(false)

	return &rbac.Enforcer{E: e}
}

func TestAddServerAndRoles(t *testing.T) {
	e := setup(t)

	err := e.AddServer(rbac.ThisServer)
	assert.NoError(t, err)

	err = e.AddOwner(rbac.ThisServer, "alice")
	assert.NoError(t, err)

	isOwner, err := e.IsOwner("alice", rbac.ThisServer)
	assert.NoError(t, err)
	assert.True(t, isOwner)

	isMember, err := e.IsMember("alice", rbac.ThisServer)
	assert.NoError(t, err)
	assert.True(t, isMember)
}

func TestAddMember(t *testing.T) {
	e := setup(t)

	err := e.AddServer(rbac.ThisServer)
	assert.NoError(t, err)

	err = e.AddOwner(rbac.ThisServer, "alice")
	assert.NoError(t, err)

	err = e.AddMember(rbac.ThisServer, "bob")
	assert.NoError(t, err)

	isMember, err := e.IsMember("alice", rbac.ThisServer)
	assert.NoError(t, err)
	assert.True(t, isMember)

	isMember, err = e.IsMember("bob", rbac.ThisServer)
	assert.NoError(t, err)
	assert.True(t, isMember)

	isOwner, err := e.IsOwner("alice", rbac.ThisServer)
	assert.NoError(t, err)
	assert.True(t, isOwner)

	// negated check here
	isOwner, err = e.IsOwner("bob", rbac.ThisServer)
	assert.NoError(t, err)
	assert.False(t, isOwner)
}

func TestMembersMayTrigger(t *testing.T) {
	e := setup(t)

	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddMember(rbac.ThisServer, "bob")

	ok, err := e.IsTriggerAllowed("bob", rbac.ThisServer, "acme/core")
	assert.NoError(t, err)
	assert.True(t, ok)

	// non-members may not
	ok, err = e.IsTriggerAllowed("mallory", rbac.ThisServer, "acme/core")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRepoPermissions(t *testing.T) {
	e := setup(t)

	fooRepo := "alice/core"
	barRepo := "bob/tools"

	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddMember(rbac.ThisServer, "alice")
	_ = e.AddMember(rbac.ThisServer, "bob")

	err := e.AddRepo("alice", rbac.ThisServer, fooRepo)
	assert.NoError(t, err)

	err = e.AddRepo("bob", rbac.ThisServer, barRepo)
	assert.NoError(t, err)

	canAdmin, err := e.IsSecretAdmin("alice", rbac.ThisServer, fooRepo)
	assert.NoError(t, err)
	assert.True(t, canAdmin)

	canAdmin, err = e.IsSecretAdmin("bob", rbac.ThisServer, barRepo)
	assert.NoError(t, err)
	assert.True(t, canAdmin)

	// negated
	canAdmin, err = e.IsSecretAdmin("bob", rbac.ThisServer, fooRepo)
	assert.NoError(t, err)
	assert.False(t, canAdmin)

	canCancel, err := e.IsCancelAllowed("alice", rbac.ThisServer, fooRepo)
	assert.NoError(t, err)
	assert.True(t, canCancel)

	// negated
	canCancel, err = e.IsCancelAllowed("bob", rbac.ThisServer, fooRepo)
	assert.NoError(t, err)
	assert.False(t, canCancel)
}

func TestServerOwnerManagesAnySecrets(t *testing.T) {
	e := setup(t)

	repo := "alice/core"

	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddOwner(rbac.ThisServer, "root")
	_ = e.AddRepo("alice", rbac.ThisServer, repo)

	ok, err := e.IsSecretAdmin("root", rbac.ThisServer, repo)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestCollaboratorPermissions(t *testing.T) {
	e := setup(t)

	repo := "alice/core"

	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddRepo("alice", rbac.ThisServer, repo)

	err := e.AddCollaborator("bob", rbac.ThisServer, repo)
	assert.NoError(t, err)

	// all collaborator permissions granted
	perms := e.GetPermissionsInRepo("bob", rbac.ThisServer, repo)
	assert.ElementsMatch(t, []string{
		"repo:collaborator", "pipeline:trigger", "pipeline:cancel",
	}, perms)

	err = e.RemoveCollaborator("bob", rbac.ThisServer, repo)
	assert.NoError(t, err)

	// all permissions removed
	perms = e.GetPermissionsInRepo("bob", rbac.ThisServer, repo)
	assert.ElementsMatch(t, []string{}, perms)
}

func TestGetByRole(t *testing.T) {
	e := setup(t)

	repo := "alice/core"

	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddRepo("alice", rbac.ThisServer, repo)

	err := e.AddCollaborator("bob", rbac.ThisServer, repo)
	assert.NoError(t, err)

	err = e.AddCollaborator("carol", rbac.ThisServer, repo)
	assert.NoError(t, err)

	collaborators, err := e.GetUserByRoleInRepo("repo:collaborator", rbac.ThisServer, repo)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"alice", // admin
		"bob",
		"carol",
	}, collaborators)
}

func TestGetPermissionsInRepo(t *testing.T) {
	e := setup(t)

	repo := "alice/core"

	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddRepo("alice", rbac.ThisServer, repo)

	perms := e.GetPermissionsInRepo("alice", rbac.ThisServer, repo)
	assert.ElementsMatch(t, []string{
		"repo:admin", "pipeline:trigger", "pipeline:cancel", "secret:admin",
	}, perms)
}

func TestInvalidRepoFormat(t *testing.T) {
	e := setup(t)

	err := e.AddRepo("alice", rbac.ThisServer, "not-valid-format")
	assert.Error(t, err)
}

func TestGetUserByRole(t *testing.T) {
	e := setup(t)
	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddMember(rbac.ThisServer, "alice")
	_ = e.AddOwner(rbac.ThisServer, "bob")

	members, _ := e.GetUserByRole("server:member", rbac.ThisServer)
	assert.Contains(t, members, "alice")
	assert.Contains(t, members, "bob") // due to inheritance
}

func TestEmptyUserPermissions(t *testing.T) {
	e := setup(t)
	allowed, _ := e.IsSecretAdmin("nobody", rbac.ThisServer, "nobody/repo")
	assert.False(t, allowed)
}

func TestDuplicatePolicyAddition(t *testing.T) {
	e := setup(t)
	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddRepo("alice", rbac.ThisServer, "alice/repo")

	// add again
	err := e.AddRepo("alice", rbac.ThisServer, "alice/repo")
	assert.NoError(t, err) // should not fail, but won't duplicate
}

func TestRemoveRepo(t *testing.T) {
	e := setup(t)
	repo := "alice/repo"
	_ = e.AddServer(rbac.ThisServer)
	_ = e.AddRepo("alice", rbac.ThisServer, repo)

	allowed, _ := e.IsSecretAdmin("alice", rbac.ThisServer, repo)
	assert.True(t, allowed)

	_ = e.RemoveRepo("alice", rbac.ThisServer, repo)

	allowed, _ = e.IsSecretAdmin("alice", rbac.ThisServer, repo)
	assert.False(t, allowed)
}
