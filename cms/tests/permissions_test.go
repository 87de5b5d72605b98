package tests

import (
	"errors"
	"testing"
)

func TestDirectPermissionGrants(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("writer")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := user.listEntries("article", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without grants, got %v", err)
	}

	if err := admin.grantToUser(user.userId, "view_article"); err != nil {
		t.Fatal(err)
	}

	if _, err := user.listEntries("article", ""); err != nil {
		t.Fatal(err)
	}

	// Viewing does not imply writing.
	if _, err := user.createEntry("article", entry{"title": "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without add grant, got %v", err)
	}

	if err := admin.grantToUser(user.userId, "add_article"); err != nil {
		t.Fatal(err)
	}
	if _, err := user.createEntry("article", entry{"title": "x"}); err != nil {
		t.Fatal(err)
	}

	// Granting an unknown codename is rejected.
	if err := admin.grantToUser(user.userId, "fly_article"); err == nil {
		t.Fatal("unknown codename should fail")
	}

	// Only superusers may manage grants.
	if err := user.grantToUser(user.userId, "delete_article"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestRolePermissionGrants(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	roleId, err := admin.createRole("Editors")
	if err != nil {
		t.Fatal(err)
	}
	err = admin.grantToRole(roleId, "view_article", "add_article", "change_article")
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("editor")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := user.createEntry("article", entry{"title": "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden before role assignment, got %v", err)
	}

	if err := admin.assignRole(roleId, user.userId); err != nil {
		t.Fatal(err)
	}

	created, err := user.createEntry("article", entry{"title": "by role"})
	if err != nil {
		t.Fatal(err)
	}

	// The role's type-level change grant does not cover a specific entry.
	if _, err := user.updateEntry("article", created["id"].(string), entry{"title": "edited"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden without object grant, got %v", err)
	}

	_, err = admin.createObjectPermission("change_article", user.userId, "article", created["id"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := user.updateEntry("article", created["id"].(string), entry{"title": "edited"}); err != nil {
		t.Fatal(err)
	}

	// The role never granted delete.
	if err := user.deleteEntry("article", created["id"].(string)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden on delete, got %v", err)
	}

	info, err := user.userInfo()
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Roles) != 1 || info.Roles[0] != "Editors" {
		t.Fatalf("unexpected roles %v", info.Roles)
	}

	// Deleting the role withdraws its grants.
	if err := admin.deleteRole(roleId); err != nil {
		t.Fatal(err)
	}
	if _, err := user.createEntry("article", entry{"title": "y"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden after role deletion, got %v", err)
	}
}

func TestObjectScopedPermission(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	mine, err := admin.createEntry("article", entry{"title": "mine"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := admin.createEntry("article", entry{"title": "other"})
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("contributor")
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.createObjectPermission("change_article", user.userId, "article", mine["id"].(string))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := user.updateEntry("article", mine["id"].(string), entry{"title": "updated"}); err != nil {
		t.Fatal(err)
	}

	// The grant is scoped to a single entry.
	if _, err := user.updateEntry("article", other["id"].(string), entry{"title": "nope"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden on other entry, got %v", err)
	}

	// Deleting the entry cleans up its grants.
	if err := admin.deleteEntry("article", mine["id"].(string)); err != nil {
		t.Fatal(err)
	}
	grants, err := get[[]map[string]interface{}](&admin, "/iam/object-permission/list?entity_type=article")
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected no grants after entry deletion, got %v", grants)
	}
}

func TestSuperuserManagement(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("user1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := user.listUsers(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if err := admin.promoteSuperuser(user.userId); err != nil {
		t.Fatal(err)
	}

	users, err := user.listUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	if err := admin.demoteSuperuser(user.userId); err != nil {
		t.Fatal(err)
	}
	if _, err := user.listUsers(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden after demotion, got %v", err)
	}

	if err := admin.deleteUser(user.userId); err != nil {
		t.Fatal(err)
	}
	users, err = admin.listUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("expected only the admin, got %d users", len(users))
	}
}
