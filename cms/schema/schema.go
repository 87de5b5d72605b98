package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldBoolean = "boolean"
	FieldDate    = "date"
	FieldSlug    = "slug"
	FieldFk      = "fk"
	FieldM2m     = "m2m"
)

const (
	ActionView   = "view"
	ActionAdd    = "add"
	ActionChange = "change"
	ActionDelete = "delete"
)

// Column names reserved for the standard lifecycle fields every dynamic
// entity carries. Field definitions may not shadow them.
var ReservedFieldSlugs = map[string]struct{}{
	"id":           {},
	"created_at":   {},
	"updated_at":   {},
	"status":       {},
	"published_at": {},
}

// PermissionCodename is the canonical "<action>_<typeslug>" codename shared by
// the REST and GraphQL surfaces. It is a pure function of its inputs.
func PermissionCodename(action, typeSlug string) string {
	return action + "_" + strings.ReplaceAll(typeSlug, "-", "_")
}

type ContentTypeDefinition struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name       string `gorm:"size:150;not null"`
	Slug       string `gorm:"size:160;unique;not null"`
	PluralName string `gorm:"size:170"`

	Description string
	Metadata    map[string]interface{} `gorm:"serializer:json"`

	IsActive bool `gorm:"not null;default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Fields []ContentFieldDefinition `gorm:"foreignKey:ContentTypeId;constraint:OnDelete:CASCADE"`
}

// StorageTable derives the physical table name from the slug. Deterministic;
// hyphens become underscores so the name is a valid SQL identifier.
func (ct *ContentTypeDefinition) StorageTable() string {
	return "content_" + strings.ReplaceAll(ct.Slug, "-", "_")
}

func (ct *ContentTypeDefinition) Plural() string {
	if ct.PluralName != "" {
		return ct.PluralName
	}
	return ct.Name + "s"
}

func (ct *ContentTypeDefinition) Validate() error {
	if ct.Name == "" {
		return fmt.Errorf("%w: content type name is required", ErrValidation)
	}
	if !isSlug(ct.Slug) {
		return fmt.Errorf("%w: '%v' is not a valid content type slug", ErrValidation, ct.Slug)
	}
	return nil
}

type ContentFieldDefinition struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ContentTypeId uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex:idx_field_slug_per_type"`
	ContentType   *ContentTypeDefinition `gorm:"foreignKey:ContentTypeId;constraint:OnDelete:CASCADE"`

	Name      string `gorm:"size:150;not null"`
	Slug      string `gorm:"size:160;not null;uniqueIndex:idx_field_slug_per_type"`
	FieldType string `gorm:"size:20;not null"`

	Required bool `gorm:"not null;default:false"`
	Unique   bool `gorm:"not null;default:false"`

	DefaultValue *string
	Metadata     map[string]interface{} `gorm:"serializer:json"`

	RelationTargetId *uuid.UUID             `gorm:"type:uuid"`
	RelationTarget   *ContentTypeDefinition `gorm:"foreignKey:RelationTargetId;constraint:OnDelete:SET NULL"`
	RelatedName      string                 `gorm:"size:150"`

	Ordering int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (f *ContentFieldDefinition) IsRelation() bool {
	return f.FieldType == FieldFk || f.FieldType == FieldM2m
}

func (f *ContentFieldDefinition) Validate() error {
	if !isIdentifier(f.Slug) {
		return fmt.Errorf("%w: field slug '%v' is not a valid identifier", ErrValidation, f.Slug)
	}
	if _, reserved := ReservedFieldSlugs[f.Slug]; reserved {
		return fmt.Errorf("%w: field slug '%v' conflicts with a reserved system field", ErrValidation, f.Slug)
	}
	if f.IsRelation() && f.RelationTargetId == nil {
		return fmt.Errorf("%w: relation target is required for %v fields", ErrValidation, f.FieldType)
	}
	if !f.IsRelation() && f.RelationTargetId != nil {
		return fmt.Errorf("%w: relation target can only be set for fk and m2m fields", ErrValidation)
	}
	return nil
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"unique;size:150;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	IsSuperuser bool `gorm:"not null;default:false"`
	IsActive    bool `gorm:"not null;default:true"`

	Roles       []Role       `gorm:"many2many:user_roles;constraint:OnDelete:CASCADE"`
	Permissions []Permission `gorm:"many2many:user_permissions;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

type Role struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:150;not null"`
	Slug string `gorm:"size:160;unique;not null"`

	Description string

	Permissions []Permission `gorm:"many2many:role_permissions;constraint:OnDelete:CASCADE"`
}

type Permission struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Codename string `gorm:"size:200;unique;not null"`
	Name     string `gorm:"size:255;not null"`
}

// ObjectPermission grants one permission to one subject (user xor role) on one
// concrete entity. The target is referenced weakly by type slug + id: rows
// surviving the entity are harmless, never followed.
type ObjectPermission struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	PermissionId uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_object_permission"`
	Permission   *Permission `gorm:"constraint:OnDelete:CASCADE"`

	UserId *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_object_permission"`
	User   *User      `gorm:"constraint:OnDelete:CASCADE"`

	RoleId *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_object_permission"`
	Role   *Role      `gorm:"constraint:OnDelete:CASCADE"`

	EntityType string `gorm:"size:160;not null;uniqueIndex:idx_object_permission"`
	ObjectId   string `gorm:"size:64;not null;uniqueIndex:idx_object_permission"`

	CreatedAt time.Time
}

func (p *ObjectPermission) Validate() error {
	if (p.UserId == nil) == (p.RoleId == nil) {
		return fmt.Errorf("%w: object permission must name exactly one of user or role", ErrValidation)
	}
	return nil
}

type ApiToken struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name string `gorm:"size:150;not null"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE"`

	TokenPrefix string `gorm:"size:12;unique;not null"`
	TokenHash   string `gorm:"size:64;unique;not null;index"`

	// Optional narrowing: an empty set imposes no restriction beyond what the
	// owning user may already do.
	Permissions []Permission `gorm:"many2many:api_token_permissions;constraint:OnDelete:CASCADE"`

	IsActive   bool `gorm:"not null;default:true"`
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

func (t *ApiToken) IsExpired() bool {
	return t.ExpiresAt != nil && !time.Now().Before(*t.ExpiresAt)
}

func (t *ApiToken) MaskedToken() string {
	return t.TokenPrefix + "..."
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isSlug(s string) bool {
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
