package schema

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPermissionCodename(t *testing.T) {
	assert.Equal(t, "view_article", PermissionCodename(ActionView, "article"))
	assert.Equal(t, "add_blog_post", PermissionCodename(ActionAdd, "blog-post"))
	assert.Equal(t, "change_blog_post", PermissionCodename(ActionChange, "blog-post"))
	assert.Equal(t, "delete_blog_post", PermissionCodename(ActionDelete, "blog-post"))

	// Deterministic: same inputs, same codename.
	assert.Equal(t, PermissionCodename(ActionView, "article"), PermissionCodename(ActionView, "article"))
}

func TestStorageTableNaming(t *testing.T) {
	ct := ContentTypeDefinition{Slug: "blog-post"}
	assert.Equal(t, "content_blog_post", ct.StorageTable())

	ct.Slug = "article"
	assert.Equal(t, "content_article", ct.StorageTable())
}

func TestPlural(t *testing.T) {
	ct := ContentTypeDefinition{Name: "Article"}
	assert.Equal(t, "Articles", ct.Plural())

	ct.PluralName = "People"
	assert.Equal(t, "People", ct.Plural())
}

func TestContentTypeValidate(t *testing.T) {
	ct := ContentTypeDefinition{Name: "Article", Slug: "article"}
	assert.NoError(t, ct.Validate())

	assert.ErrorIs(t, (&ContentTypeDefinition{Slug: "article"}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&ContentTypeDefinition{Name: "Article", Slug: "Bad Slug"}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&ContentTypeDefinition{Name: "Article", Slug: ""}).Validate(), ErrValidation)
}

func TestFieldValidateReservedSlugs(t *testing.T) {
	for slug := range ReservedFieldSlugs {
		field := ContentFieldDefinition{Slug: slug, FieldType: FieldText}
		assert.ErrorIs(t, field.Validate(), ErrValidation, slug)
	}

	field := ContentFieldDefinition{Slug: "title", FieldType: FieldText}
	assert.NoError(t, field.Validate())
}

func TestFieldValidateRelationTarget(t *testing.T) {
	target := uuid.New()

	fk := ContentFieldDefinition{Slug: "author", FieldType: FieldFk}
	assert.ErrorIs(t, fk.Validate(), ErrValidation)

	fk.RelationTargetId = &target
	assert.NoError(t, fk.Validate())

	text := ContentFieldDefinition{Slug: "title", FieldType: FieldText, RelationTargetId: &target}
	assert.ErrorIs(t, text.Validate(), ErrValidation)
}

func TestFieldValidateIdentifier(t *testing.T) {
	bad := []string{"", "1leading", "has-hyphen", "has space"}
	for _, slug := range bad {
		field := ContentFieldDefinition{Slug: slug, FieldType: FieldText}
		assert.ErrorIs(t, field.Validate(), ErrValidation, slug)
	}

	good := []string{"title", "word_count", "f2"}
	for _, slug := range good {
		field := ContentFieldDefinition{Slug: slug, FieldType: FieldText}
		assert.NoError(t, field.Validate(), slug)
	}
}

func TestObjectPermissionValidate(t *testing.T) {
	userId := uuid.New()
	roleId := uuid.New()
	permId := uuid.New()

	grant := ObjectPermission{PermissionId: permId, UserId: &userId, EntityType: "article", ObjectId: uuid.NewString()}
	assert.NoError(t, grant.Validate())

	grant = ObjectPermission{PermissionId: permId, RoleId: &roleId, EntityType: "article", ObjectId: uuid.NewString()}
	assert.NoError(t, grant.Validate())

	grant = ObjectPermission{PermissionId: permId, UserId: &userId, RoleId: &roleId, EntityType: "article", ObjectId: uuid.NewString()}
	assert.ErrorIs(t, grant.Validate(), ErrValidation)

	grant = ObjectPermission{PermissionId: permId, EntityType: "article", ObjectId: uuid.NewString()}
	assert.ErrorIs(t, grant.Validate(), ErrValidation)
}

func TestApiTokenMasking(t *testing.T) {
	token := ApiToken{TokenPrefix: "ctr_abc12345"}
	assert.Equal(t, "ctr_abc12345...", token.MaskedToken())
}
