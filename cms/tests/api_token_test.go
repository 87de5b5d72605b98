package tests

import (
	"errors"
	"strings"
	"testing"
)

func TestApiTokenAuth(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	_, raw, err := admin.createApiToken("automation")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, ".") {
		t.Fatalf("unexpected token format %v", raw)
	}

	// A fresh client carrying only the token acts as the token's owner.
	tokenClient := env.newClient()
	tokenClient.apiToken = raw

	info, err := tokenClient.userInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.Email != adminEmail {
		t.Fatalf("token should act as its owner, got %v", info.Email)
	}

	if _, err := tokenClient.createEntry("article", entry{"title": "via token"}); err != nil {
		t.Fatal(err)
	}

	badClient := env.newClient()
	badClient.apiToken = "not.a-real-token"
	if _, err := badClient.userInfo(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestApiTokenNarrowing(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.createContentType(articleSpec()); err != nil {
		t.Fatal(err)
	}

	_, raw, err := admin.createApiToken("read only", "view_article")
	if err != nil {
		t.Fatal(err)
	}

	tokenClient := env.newClient()
	tokenClient.apiToken = raw

	if _, err := tokenClient.listEntries("article", ""); err != nil {
		t.Fatal(err)
	}

	// The subset binds even though the owner is a superuser.
	if _, err := tokenClient.createEntry("article", entry{"title": "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden outside token scope, got %v", err)
	}

	// Unknown codenames are rejected at creation.
	if _, _, err := admin.createApiToken("bad", "launch_article"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestApiTokenListAndRevoke(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("user1")
	if err != nil {
		t.Fatal(err)
	}

	tokenId, raw, err := user.createApiToken("user token")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := admin.createApiToken("admin token"); err != nil {
		t.Fatal(err)
	}

	tokens, err := user.listApiTokens("")
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0].Name != "user token" {
		t.Fatalf("unexpected token list %v", tokens)
	}
	if strings.Contains(tokens[0].MaskedToken, raw) {
		t.Fatal("raw token must never be listed")
	}

	// Superusers may audit all tokens.
	all, err := admin.listApiTokens("?all=true")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(all))
	}

	// Users cannot revoke each other's tokens.
	otherId, _, err := admin.createApiToken("admin second")
	if err != nil {
		t.Fatal(err)
	}
	if err := user.revokeApiToken(otherId); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if err := user.revokeApiToken(tokenId); err != nil {
		t.Fatal(err)
	}

	revoked := env.newClient()
	revoked.apiToken = raw
	if _, err := revoked.userInfo(); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden with revoked token, got %v", err)
	}
}
