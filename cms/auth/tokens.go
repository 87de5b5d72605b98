package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"contro/cms/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInvalidToken = errors.New("API token is invalid")
	ErrExpiredToken = errors.New("API token is inactive or expired")
)

// Credential is the scoped API credential attached to a request authenticated
// with an API token instead of a session.
type Credential struct {
	Token schema.ApiToken
}

// Narrows reports whether the credential restricts its bearer to a permission
// subset. Tokens without an explicit subset inherit the user's full set.
func (c *Credential) Narrows() bool {
	return c != nil && len(c.Token.Permissions) > 0
}

func (c *Credential) AllowsCodename(codename string) bool {
	if !c.Narrows() {
		return true
	}
	for _, perm := range c.Token.Permissions {
		if perm.Codename == codename {
			return true
		}
	}
	return false
}

func hashTokenSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	bytes := make([]byte, (n+1)/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:n], nil
}

// CreateApiToken mints a token for the user. The raw value "<prefix>.<secret>"
// is returned exactly once; only its hash and the visible prefix are stored.
// Codenames, if given, become the token's narrowing permission subset.
func CreateApiToken(db *gorm.DB, userId uuid.UUID, name string, codenames []string, expiresAt *time.Time) (schema.ApiToken, string, error) {
	prefix, err := randomHex(8)
	if err != nil {
		return schema.ApiToken{}, "", fmt.Errorf("error generating token prefix: %w", err)
	}
	secret, err := randomHex(32)
	if err != nil {
		return schema.ApiToken{}, "", fmt.Errorf("error generating token secret: %w", err)
	}

	raw := prefix + "." + secret

	var perms []schema.Permission
	if len(codenames) > 0 {
		result := db.Find(&perms, "codename IN ?", codenames)
		if result.Error != nil {
			slog.Error("sql error loading token permissions", "error", result.Error)
			return schema.ApiToken{}, "", schema.ErrDbAccessFailed
		}
		if len(perms) != len(codenames) {
			return schema.ApiToken{}, "", fmt.Errorf("%w: unknown permission codename", schema.ErrPermissionNotFound)
		}
	}

	token := schema.ApiToken{
		Id:          uuid.New(),
		Name:        name,
		UserId:      userId,
		TokenPrefix: prefix,
		TokenHash:   hashTokenSecret(raw),
		Permissions: perms,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	if result := db.Create(&token); result.Error != nil {
		slog.Error("sql error creating api token", "user_id", userId, "error", result.Error)
		return schema.ApiToken{}, "", schema.ErrDbAccessFailed
	}

	return token, raw, nil
}

// ValidateApiToken resolves a raw token to its record, enforcing the active
// flag and expiry, and stamps last_used_at.
func ValidateApiToken(db *gorm.DB, raw string) (schema.ApiToken, error) {
	if !strings.Contains(raw, ".") {
		return schema.ApiToken{}, ErrInvalidToken
	}

	var token schema.ApiToken
	result := db.Preload("Permissions").Where("token_hash = ?", hashTokenSecret(raw)).First(&token)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return schema.ApiToken{}, ErrInvalidToken
		}
		slog.Error("sql error validating api token", "error", result.Error)
		return schema.ApiToken{}, schema.ErrDbAccessFailed
	}

	if !token.IsActive || token.IsExpired() {
		return schema.ApiToken{}, ErrExpiredToken
	}

	now := time.Now().UTC()
	if result := db.Model(&token).Update("last_used_at", now); result.Error != nil {
		slog.Error("sql error stamping token usage", "token_id", token.Id, "error", result.Error)
	}

	return token, nil
}

func RevokeApiToken(db *gorm.DB, tokenId uuid.UUID) error {
	result := db.Model(&schema.ApiToken{}).Where("id = ?", tokenId).Update("is_active", false)
	if result.Error != nil {
		slog.Error("sql error revoking api token", "token_id", tokenId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return schema.ErrTokenNotFound
	}
	return nil
}
