package fieldtype

import (
	"testing"

	"contro/cms/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func textField(slug string, meta map[string]interface{}) *schema.ContentFieldDefinition {
	return &schema.ContentFieldDefinition{Id: uuid.New(), Slug: slug, FieldType: schema.FieldText, Metadata: meta}
}

func TestColumnMapping(t *testing.T) {
	target := uuid.New()

	tests := []struct {
		name    string
		field   schema.ContentFieldDefinition
		sqlType string
	}{
		{"bounded text", schema.ContentFieldDefinition{Slug: "title", FieldType: schema.FieldText, Metadata: map[string]interface{}{"max_length": 200}}, "varchar(200)"},
		{"unbounded text", schema.ContentFieldDefinition{Slug: "body", FieldType: schema.FieldText}, "text"},
		{"integer number", schema.ContentFieldDefinition{Slug: "count", FieldType: schema.FieldNumber, Metadata: map[string]interface{}{"integer": true}}, "bigint"},
		{"float number", schema.ContentFieldDefinition{Slug: "score", FieldType: schema.FieldNumber}, "double precision"},
		{"boolean", schema.ContentFieldDefinition{Slug: "done", FieldType: schema.FieldBoolean}, "boolean"},
		{"date", schema.ContentFieldDefinition{Slug: "due", FieldType: schema.FieldDate}, "date"},
		{"slug", schema.ContentFieldDefinition{Slug: "handle", FieldType: schema.FieldSlug}, "varchar(160)"},
		{"relation", schema.ContentFieldDefinition{Slug: "author", FieldType: schema.FieldFk, RelationTargetId: &target, RelationTarget: &schema.ContentTypeDefinition{Id: target, Slug: "person"}}, "uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, err := Column(&tt.field)
			if err != nil {
				t.Fatal(err)
			}
			assert.Equal(t, tt.field.Slug, col.Name)
			assert.Equal(t, tt.sqlType, col.SQLType)
		})
	}
}

func TestColumnRejectsMultiRelation(t *testing.T) {
	target := uuid.New()
	field := schema.ContentFieldDefinition{
		Slug: "tags", FieldType: schema.FieldM2m,
		RelationTargetId: &target,
		RelationTarget:   &schema.ContentTypeDefinition{Id: target, Slug: "tag"},
	}

	_, err := Column(&field)
	assert.ErrorIs(t, err, ErrUnsupportedFieldKind)
}

func TestRelationColumnReferencesTargetTable(t *testing.T) {
	target := uuid.New()
	field := schema.ContentFieldDefinition{
		Slug: "author", FieldType: schema.FieldFk,
		RelationTargetId: &target,
		RelationTarget:   &schema.ContentTypeDefinition{Id: target, Slug: "blog-author"},
	}

	col, err := Column(&field)
	if err != nil {
		t.Fatal(err)
	}
	if col.Ref == nil {
		t.Fatal("relation column must carry a reference")
	}
	assert.Equal(t, "content_blog_author", col.Ref.Table)
}

func TestJoinTableNaming(t *testing.T) {
	target := uuid.New()
	owner := schema.ContentTypeDefinition{Id: uuid.New(), Slug: "blog-post"}
	field := schema.ContentFieldDefinition{
		Slug: "tags", FieldType: schema.FieldM2m,
		RelationTargetId: &target,
		RelationTarget:   &schema.ContentTypeDefinition{Id: target, Slug: "tag"},
	}

	join, err := JoinTable(&owner, &field)
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "content_blog_post_tags", join.Name)
	assert.Equal(t, "content_blog_post", join.OwnerTable)
	assert.Equal(t, "content_tag", join.TargetTable)
}

func TestValidateRequired(t *testing.T) {
	field := textField("title", nil)
	field.Required = true

	assert.ErrorIs(t, Validate(field, nil), ErrInvalidValue)
	assert.NoError(t, Validate(field, "ok"))

	field.Required = false
	assert.NoError(t, Validate(field, nil))
}

func TestValidateTextConstraints(t *testing.T) {
	field := textField("title", map[string]interface{}{"min_length": 3, "max_length": 5})

	assert.ErrorIs(t, Validate(field, "ab"), ErrInvalidValue)
	assert.ErrorIs(t, Validate(field, "abcdef"), ErrInvalidValue)
	assert.ErrorIs(t, Validate(field, 17), ErrInvalidValue)
	assert.NoError(t, Validate(field, "abcd"))
}

func TestValidateTextPattern(t *testing.T) {
	field := textField("sku", map[string]interface{}{"regex": "^[A-Z]{2}-\\d+$"})

	assert.NoError(t, Validate(field, "AB-123"))
	assert.ErrorIs(t, Validate(field, "ab-123"), ErrInvalidValue)
}

func TestValidateNumberConstraints(t *testing.T) {
	field := &schema.ContentFieldDefinition{
		Slug: "rating", FieldType: schema.FieldNumber,
		Metadata: map[string]interface{}{"min_value": 1, "max_value": 5, "integer": true},
	}

	assert.NoError(t, Validate(field, 3))
	assert.NoError(t, Validate(field, float64(5)))
	assert.ErrorIs(t, Validate(field, 0), ErrInvalidValue)
	assert.ErrorIs(t, Validate(field, 6), ErrInvalidValue)
	assert.ErrorIs(t, Validate(field, 3.5), ErrInvalidValue)
	assert.ErrorIs(t, Validate(field, "3"), ErrInvalidValue)
}

func TestValidateSlug(t *testing.T) {
	field := &schema.ContentFieldDefinition{Slug: "handle", FieldType: schema.FieldSlug}

	assert.NoError(t, Validate(field, "my-first-post"))
	assert.ErrorIs(t, Validate(field, "My First Post"), ErrInvalidValue)
	assert.ErrorIs(t, Validate(field, "no spaces allowed"), ErrInvalidValue)

	field.Metadata = map[string]interface{}{"allow_unicode": true}
	assert.NoError(t, Validate(field, "héllo"))
}

func TestValidateDate(t *testing.T) {
	field := &schema.ContentFieldDefinition{Slug: "due", FieldType: schema.FieldDate}

	assert.NoError(t, Validate(field, "2025-06-01"))
	assert.NoError(t, Validate(field, "2025-06-01T12:30:00Z"))
	assert.ErrorIs(t, Validate(field, "not a date"), ErrInvalidValue)
}

func TestValidateRelations(t *testing.T) {
	target := uuid.New()
	fk := &schema.ContentFieldDefinition{Slug: "author", FieldType: schema.FieldFk, RelationTargetId: &target}

	assert.NoError(t, Validate(fk, uuid.NewString()))
	assert.ErrorIs(t, Validate(fk, "not-a-uuid"), ErrInvalidValue)

	m2m := &schema.ContentFieldDefinition{Slug: "tags", FieldType: schema.FieldM2m, RelationTargetId: &target}

	assert.NoError(t, Validate(m2m, []interface{}{uuid.NewString(), uuid.NewString()}))
	assert.ErrorIs(t, Validate(m2m, []interface{}{"junk"}), ErrInvalidValue)
	assert.ErrorIs(t, Validate(m2m, uuid.NewString()), ErrInvalidValue)
}

func TestAPITypeMapping(t *testing.T) {
	target := uuid.New()

	tests := []struct {
		fieldType string
		kind      string
		list      bool
	}{
		{schema.FieldText, "String", false},
		{schema.FieldSlug, "String", false},
		{schema.FieldNumber, "Float", false},
		{schema.FieldBoolean, "Boolean", false},
		{schema.FieldDate, "DateTime", false},
		{schema.FieldFk, "ID", false},
		{schema.FieldM2m, "ID", true},
	}

	for _, tt := range tests {
		field := &schema.ContentFieldDefinition{Slug: "f", FieldType: tt.fieldType}
		if tt.fieldType == schema.FieldFk || tt.fieldType == schema.FieldM2m {
			field.RelationTargetId = &target
		}

		apiType, err := API(field)
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, tt.kind, apiType.Kind)
		assert.Equal(t, tt.list, apiType.List)
	}
}
