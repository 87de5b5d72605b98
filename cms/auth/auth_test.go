package auth

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"contro/cms/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupAuthDb(t *testing.T) *gorm.DB {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%v?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&schema.User{}, &schema.Role{}, &schema.Permission{},
		&schema.ObjectPermission{}, &schema.ApiToken{},
	)
	require.NoError(t, err)
	return db
}

func seedPermission(t *testing.T, db *gorm.DB, codename string) schema.Permission {
	perm := schema.Permission{Id: uuid.New(), Name: codename, Codename: codename}
	require.NoError(t, db.Create(&perm).Error)
	return perm
}

func seedUser(t *testing.T, db *gorm.DB, username string, superuser bool) schema.User {
	user := schema.User{
		Id: uuid.New(), Username: username, Email: username + "@mail.com",
		IsSuperuser: superuser, IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestActionForMethod(t *testing.T) {
	assert.Equal(t, schema.ActionView, ActionForMethod(http.MethodGet))
	assert.Equal(t, schema.ActionView, ActionForMethod(http.MethodHead))
	assert.Equal(t, schema.ActionAdd, ActionForMethod(http.MethodPost))
	assert.Equal(t, schema.ActionChange, ActionForMethod(http.MethodPut))
	assert.Equal(t, schema.ActionChange, ActionForMethod(http.MethodPatch))
	assert.Equal(t, schema.ActionDelete, ActionForMethod(http.MethodDelete))
	assert.Equal(t, "", ActionForMethod("TRACE"))
}

func TestCanTypeLevel(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	perm := seedPermission(t, db, "view_article")

	superuser := seedUser(t, db, "root", true)
	ok, err := evaluator.Can(superuser, schema.ActionView, "article")
	require.NoError(t, err)
	assert.True(t, ok)

	plain := seedUser(t, db, "plain", false)
	ok, err = evaluator.Can(plain, schema.ActionView, "article")
	require.NoError(t, err)
	assert.False(t, ok)

	// Direct grant.
	require.NoError(t, db.Model(&plain).Association("Permissions").Append(&perm))
	ok, err = evaluator.Can(plain, schema.ActionView, "article")
	require.NoError(t, err)
	assert.True(t, ok)

	// Grant for another action does not bleed over.
	ok, err = evaluator.Can(plain, schema.ActionDelete, "article")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown codenames deny without erroring.
	ok, err = evaluator.Can(plain, schema.ActionView, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanViaRole(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	perm := seedPermission(t, db, "change_article")

	role := schema.Role{Id: uuid.New(), Name: "Editors", Slug: "editors", Permissions: []schema.Permission{perm}}
	require.NoError(t, db.Create(&role).Error)

	user := seedUser(t, db, "editor", false)
	ok, err := evaluator.Can(user, schema.ActionChange, "article")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Model(&user).Association("Roles").Append(&role))
	ok, err = evaluator.Can(user, schema.ActionChange, "article")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInactiveUserAlwaysDenied(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	seedPermission(t, db, "view_article")

	user := seedUser(t, db, "ghost", true)
	require.NoError(t, db.Model(&user).Update("is_active", false).Error)
	user.IsActive = false

	ok, err := evaluator.Can(user, schema.ActionView, "article")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = evaluator.CanObject(user, schema.ActionView, "article", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanObject(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	perm := seedPermission(t, db, "change_article")
	user := seedUser(t, db, "editor", false)

	objectId := uuid.NewString()
	grant := schema.ObjectPermission{
		Id: uuid.New(), PermissionId: perm.Id, UserId: &user.Id,
		EntityType: "article", ObjectId: objectId,
	}
	require.NoError(t, db.Create(&grant).Error)

	ok, err := evaluator.CanObject(user, schema.ActionChange, "article", objectId)
	require.NoError(t, err)
	assert.True(t, ok)

	// Scoped to this one instance.
	ok, err = evaluator.CanObject(user, schema.ActionChange, "article", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)

	// And to this one permission.
	ok, err = evaluator.CanObject(user, schema.ActionDelete, "article", objectId)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanObjectViaRole(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	perm := seedPermission(t, db, "view_report")

	role := schema.Role{Id: uuid.New(), Name: "Reviewers", Slug: "reviewers"}
	require.NoError(t, db.Create(&role).Error)

	user := seedUser(t, db, "reviewer", false)
	require.NoError(t, db.Model(&user).Association("Roles").Append(&role))

	objectId := uuid.NewString()
	grant := schema.ObjectPermission{
		Id: uuid.New(), PermissionId: perm.Id, RoleId: &role.Id,
		EntityType: "report", ObjectId: objectId,
	}
	require.NoError(t, db.Create(&grant).Error)

	ok, err := evaluator.CanObject(user, schema.ActionView, "report", objectId)
	require.NoError(t, err)
	assert.True(t, ok)

	// A user outside the role sees nothing.
	outsider := seedUser(t, db, "outsider", false)
	ok, err = evaluator.CanObject(outsider, schema.ActionView, "report", objectId)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowedObjectChecksAreStrict(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	perm := seedPermission(t, db, "change_article")
	user := seedUser(t, db, "editor", false)

	// A type-level grant does not carry object scoped operations.
	require.NoError(t, db.Model(&user).Association("Permissions").Append(&perm))
	ok, err := evaluator.Allowed(user, nil, schema.ActionChange, "article", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)

	// It still answers the type-level form of the check.
	ok, err = evaluator.Allowed(user, nil, schema.ActionChange, "article", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// An object grant on the exact entity carries the check.
	objectId := uuid.NewString()
	grant := schema.ObjectPermission{
		Id: uuid.New(), PermissionId: perm.Id, UserId: &user.Id,
		EntityType: "article", ObjectId: objectId,
	}
	require.NoError(t, db.Create(&grant).Error)

	ok, err = evaluator.Allowed(user, nil, schema.ActionChange, "article", objectId)
	require.NoError(t, err)
	assert.True(t, ok)

	// The grant is bound to its entity, not to the type.
	ok, err = evaluator.Allowed(user, nil, schema.ActionChange, "article", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)

	// Superusers pass object checks without any grant.
	root := seedUser(t, db, "root", true)
	ok, err = evaluator.Allowed(root, nil, schema.ActionChange, "article", uuid.NewString())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowedCredentialNarrowing(t *testing.T) {
	db := setupAuthDb(t)
	evaluator := NewEvaluator(db)
	viewPerm := seedPermission(t, db, "view_article")
	seedPermission(t, db, "add_article")

	superuser := seedUser(t, db, "root", true)
	scoped := &Credential{Token: schema.ApiToken{Permissions: []schema.Permission{viewPerm}}}

	ok, err := evaluator.Allowed(superuser, scoped, schema.ActionView, "article", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// The subset binds superusers as well.
	ok, err = evaluator.Allowed(superuser, scoped, schema.ActionAdd, "article", "")
	require.NoError(t, err)
	assert.False(t, ok)

	// A token without a subset imposes nothing.
	unscoped := &Credential{Token: schema.ApiToken{}}
	ok, err = evaluator.Allowed(superuser, unscoped, schema.ActionAdd, "article", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateApiToken(t *testing.T) {
	db := setupAuthDb(t)
	seedPermission(t, db, "view_article")
	user := seedUser(t, db, "owner", false)

	token, raw, err := CreateApiToken(db, user.Id, "ci token", []string{"view_article"}, nil)
	require.NoError(t, err)

	parts := strings.SplitN(raw, ".", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, token.TokenPrefix, parts[0])
	assert.Len(t, parts[0], 8)
	assert.Len(t, parts[1], 32)

	// Only the hash is stored.
	assert.NotContains(t, token.TokenHash, parts[1])
	assert.Len(t, token.Permissions, 1)
	assert.True(t, token.IsActive)

	_, _, err = CreateApiToken(db, user.Id, "bad", []string{"no_such_codename"}, nil)
	assert.ErrorIs(t, err, schema.ErrPermissionNotFound)
}

func TestValidateApiToken(t *testing.T) {
	db := setupAuthDb(t)
	user := seedUser(t, db, "owner", false)

	_, raw, err := CreateApiToken(db, user.Id, "ci token", nil, nil)
	require.NoError(t, err)

	token, err := ValidateApiToken(db, raw)
	require.NoError(t, err)
	assert.Equal(t, user.Id, token.UserId)
	assert.NotNil(t, token.LastUsedAt)

	_, err = ValidateApiToken(db, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateApiToken(db, token.TokenPrefix+".wrongsecret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredAndRevokedTokens(t *testing.T) {
	db := setupAuthDb(t)
	user := seedUser(t, db, "owner", false)

	past := time.Now().UTC().Add(-time.Hour)
	_, rawExpired, err := CreateApiToken(db, user.Id, "expired", nil, &past)
	require.NoError(t, err)

	_, err = ValidateApiToken(db, rawExpired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	token, rawRevoked, err := CreateApiToken(db, user.Id, "revoked", nil, nil)
	require.NoError(t, err)
	require.NoError(t, RevokeApiToken(db, token.Id))

	_, err = ValidateApiToken(db, rawRevoked)
	assert.ErrorIs(t, err, ErrExpiredToken)

	assert.ErrorIs(t, RevokeApiToken(db, uuid.New()), schema.ErrTokenNotFound)
}
