// Package fieldtype maps the abstract field kinds of a content type onto
// storage column specs, value validators, and API scalar types. It is the
// single place that knows what a field kind means.
package fieldtype

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"contro/cms/schema"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedFieldKind     = errors.New("unsupported field kind")
	ErrMissingRelationTarget    = errors.New("relation target is required for relation fields")
	ErrUnexpectedRelationTarget = errors.New("relation target can only be set on relation fields")
	ErrInvalidValue             = errors.New("invalid field value")
)

// RefSpec marks a column as a foreign reference to another dynamic entity
// table. Single relations cascade with the referenced row.
type RefSpec struct {
	Table    string
	OnDelete string
}

type ColumnSpec struct {
	Name       string
	SQLType    string
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	Default    *string
	Ref        *RefSpec
}

// JoinTableSpec describes the through table backing a multi-relation field.
type JoinTableSpec struct {
	Name         string
	OwnerColumn  string
	OwnerTable   string
	TargetColumn string
	TargetTable  string
}

// APIType is the abstract scalar/list type a field exposes on the query
// surface. Kind is one of String, Float, Boolean, DateTime, ID.
type APIType struct {
	Kind string
	List bool
}

const defaultSlugLength = 160

// Column translates a field definition into its storage column. Multi-relation
// fields have no column of their own (see JoinTable) and return an error.
func Column(field *schema.ContentFieldDefinition) (ColumnSpec, error) {
	if err := checkRelationTarget(field); err != nil {
		return ColumnSpec{}, err
	}

	spec := ColumnSpec{
		Name:    field.Slug,
		NotNull: field.Required,
		Unique:  field.Unique,
		Default: field.DefaultValue,
	}

	switch field.FieldType {
	case schema.FieldText:
		if n, ok := metaInt(field.Metadata, "max_length"); ok {
			spec.SQLType = fmt.Sprintf("varchar(%d)", n)
		} else {
			spec.SQLType = "text"
		}
	case schema.FieldNumber:
		if metaBool(field.Metadata, "integer") {
			spec.SQLType = "bigint"
		} else {
			spec.SQLType = "double precision"
		}
	case schema.FieldBoolean:
		spec.SQLType = "boolean"
	case schema.FieldDate:
		spec.SQLType = "date"
	case schema.FieldSlug:
		n, ok := metaInt(field.Metadata, "max_length")
		if !ok {
			n = defaultSlugLength
		}
		spec.SQLType = fmt.Sprintf("varchar(%d)", n)
	case schema.FieldFk:
		spec.SQLType = "uuid"
		spec.Ref = &RefSpec{Table: field.RelationTarget.StorageTable(), OnDelete: "CASCADE"}
	case schema.FieldM2m:
		return ColumnSpec{}, fmt.Errorf("%w: m2m field '%v' is stored through a join table", ErrUnsupportedFieldKind, field.Slug)
	default:
		return ColumnSpec{}, fmt.Errorf("%w: '%v'", ErrUnsupportedFieldKind, field.FieldType)
	}

	return spec, nil
}

// JoinTable derives the through table for a multi-relation field. The name is
// a deterministic function of the owning type and field slug.
func JoinTable(owner *schema.ContentTypeDefinition, field *schema.ContentFieldDefinition) (JoinTableSpec, error) {
	if field.FieldType != schema.FieldM2m {
		return JoinTableSpec{}, fmt.Errorf("%w: '%v' is not a m2m field", ErrUnsupportedFieldKind, field.Slug)
	}
	if err := checkRelationTarget(field); err != nil {
		return JoinTableSpec{}, err
	}

	return JoinTableSpec{
		Name:         owner.StorageTable() + "_" + field.Slug,
		OwnerColumn:  "owner_id",
		OwnerTable:   owner.StorageTable(),
		TargetColumn: "target_id",
		TargetTable:  field.RelationTarget.StorageTable(),
	}, nil
}

// API reports the scalar/list type a field exposes to the query surface.
// Relation fields expose the related id(s).
func API(field *schema.ContentFieldDefinition) (APIType, error) {
	switch field.FieldType {
	case schema.FieldText, schema.FieldSlug:
		return APIType{Kind: "String"}, nil
	case schema.FieldNumber:
		return APIType{Kind: "Float"}, nil
	case schema.FieldBoolean:
		return APIType{Kind: "Boolean"}, nil
	case schema.FieldDate:
		return APIType{Kind: "DateTime"}, nil
	case schema.FieldFk:
		return APIType{Kind: "ID"}, nil
	case schema.FieldM2m:
		return APIType{Kind: "ID", List: true}, nil
	default:
		return APIType{}, fmt.Errorf("%w: '%v'", ErrUnsupportedFieldKind, field.FieldType)
	}
}

// Validate checks a client supplied value against the field's kind and its
// metadata constraints. A nil value is only rejected for required fields.
func Validate(field *schema.ContentFieldDefinition, value interface{}) error {
	if value == nil {
		if field.Required {
			return fmt.Errorf("%w: field '%v' is required", ErrInvalidValue, field.Slug)
		}
		return nil
	}

	switch field.FieldType {
	case schema.FieldText:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: field '%v' expects a string", ErrInvalidValue, field.Slug)
		}
		return checkTextConstraints(field, s)
	case schema.FieldSlug:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: field '%v' expects a string", ErrInvalidValue, field.Slug)
		}
		if !metaBool(field.Metadata, "allow_unicode") && !isCanonicalSlug(s) {
			return fmt.Errorf("%w: field '%v' expects a canonical slug", ErrInvalidValue, field.Slug)
		}
		return checkTextConstraints(field, s)
	case schema.FieldNumber:
		n, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("%w: field '%v' expects a number", ErrInvalidValue, field.Slug)
		}
		if metaBool(field.Metadata, "integer") && n != float64(int64(n)) {
			return fmt.Errorf("%w: field '%v' expects an integer", ErrInvalidValue, field.Slug)
		}
		return checkNumberConstraints(field, n)
	case schema.FieldBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: field '%v' expects a boolean", ErrInvalidValue, field.Slug)
		}
		return nil
	case schema.FieldDate:
		d, err := asDate(value)
		if err != nil {
			return fmt.Errorf("%w: field '%v' expects an ISO date", ErrInvalidValue, field.Slug)
		}
		return checkDateConstraints(field, d)
	case schema.FieldFk:
		if _, err := asUUID(value); err != nil {
			return fmt.Errorf("%w: field '%v' expects a related id", ErrInvalidValue, field.Slug)
		}
		return nil
	case schema.FieldM2m:
		ids, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("%w: field '%v' expects a list of related ids", ErrInvalidValue, field.Slug)
		}
		for _, id := range ids {
			if _, err := asUUID(id); err != nil {
				return fmt.Errorf("%w: field '%v' expects related ids", ErrInvalidValue, field.Slug)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: '%v'", ErrUnsupportedFieldKind, field.FieldType)
	}
}

func checkRelationTarget(field *schema.ContentFieldDefinition) error {
	if field.IsRelation() {
		if field.RelationTarget == nil {
			return fmt.Errorf("%w: field '%v'", ErrMissingRelationTarget, field.Slug)
		}
		return nil
	}
	if field.RelationTarget != nil || field.RelationTargetId != nil {
		return fmt.Errorf("%w: field '%v'", ErrUnexpectedRelationTarget, field.Slug)
	}
	return nil
}

func checkTextConstraints(field *schema.ContentFieldDefinition, s string) error {
	if n, ok := metaInt(field.Metadata, "min_length"); ok && len(s) < n {
		return fmt.Errorf("%w: field '%v' is shorter than %d characters", ErrInvalidValue, field.Slug, n)
	}
	if n, ok := metaInt(field.Metadata, "max_length"); ok && len(s) > n {
		return fmt.Errorf("%w: field '%v' is longer than %d characters", ErrInvalidValue, field.Slug, n)
	}
	if pattern, ok := metaString(field.Metadata, "regex"); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: field '%v' has an invalid regex constraint", ErrInvalidValue, field.Slug)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("%w: field '%v' does not match '%v'", ErrInvalidValue, field.Slug, pattern)
		}
	}
	return nil
}

func checkNumberConstraints(field *schema.ContentFieldDefinition, n float64) error {
	if min, ok := metaFloat(field.Metadata, "min_value"); ok && n < min {
		return fmt.Errorf("%w: field '%v' is below %v", ErrInvalidValue, field.Slug, min)
	}
	if max, ok := metaFloat(field.Metadata, "max_value"); ok && n > max {
		return fmt.Errorf("%w: field '%v' is above %v", ErrInvalidValue, field.Slug, max)
	}
	return nil
}

func checkDateConstraints(field *schema.ContentFieldDefinition, d time.Time) error {
	if raw, ok := metaString(field.Metadata, "min_date"); ok {
		if min, err := time.Parse("2006-01-02", raw); err == nil && d.Before(min) {
			return fmt.Errorf("%w: field '%v' is before %v", ErrInvalidValue, field.Slug, raw)
		}
	}
	if raw, ok := metaString(field.Metadata, "max_date"); ok {
		if max, err := time.Parse("2006-01-02", raw); err == nil && d.After(max) {
			return fmt.Errorf("%w: field '%v' is after %v", ErrInvalidValue, field.Slug, raw)
		}
	}
	return nil
}

func metaInt(m map[string]interface{}, key string) (int, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func metaFloat(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func metaBool(m map[string]interface{}, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key].(bool)
	return ok && v
}

func metaString(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok && v != ""
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asDate(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		if d, err := time.Parse("2006-01-02", v); err == nil {
			return d, nil
		}
		return time.Parse(time.RFC3339, v)
	}
	return time.Time{}, fmt.Errorf("not a date: %v", value)
}

func asUUID(value interface{}) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	}
	return uuid.Nil, fmt.Errorf("not an id: %v", value)
}

func isCanonicalSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
