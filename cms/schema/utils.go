package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrValidation          = errors.New("invalid definition")
	ErrContentTypeNotFound = errors.New("content type not found")
	ErrFieldNotFound       = errors.New("field definition not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrRoleNotFound        = errors.New("role not found")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrTokenNotFound       = errors.New("api token not found")
	ErrDbAccessFailed      = errors.New("db access failed")
)

func GetContentType(id uuid.UUID, db *gorm.DB) (ContentTypeDefinition, error) {
	var ct ContentTypeDefinition

	result := db.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("ordering, name")
	}).Preload("Fields.RelationTarget").First(&ct, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ct, ErrContentTypeNotFound
		}
		slog.Error("sql error in get content type", "content_type_id", id, "error", result.Error)
		return ct, ErrDbAccessFailed
	}

	return ct, nil
}

func GetContentTypeBySlug(slug string, db *gorm.DB) (ContentTypeDefinition, error) {
	var ct ContentTypeDefinition

	result := db.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("ordering, name")
	}).Preload("Fields.RelationTarget").First(&ct, "slug = ?", slug)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return ct, ErrContentTypeNotFound
		}
		slog.Error("sql error in get content type by slug", "slug", slug, "error", result.Error)
		return ct, ErrDbAccessFailed
	}

	return ct, nil
}

func GetField(fieldId uuid.UUID, db *gorm.DB) (ContentFieldDefinition, error) {
	var field ContentFieldDefinition

	result := db.Preload("RelationTarget").First(&field, "id = ?", fieldId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return field, ErrFieldNotFound
		}
		slog.Error("sql error in get field definition", "field_id", fieldId, "error", result.Error)
		return field, ErrDbAccessFailed
	}

	return field, nil
}

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.Preload("Roles").First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetRole(roleId uuid.UUID, db *gorm.DB) (Role, error) {
	var role Role

	result := db.Preload("Permissions").First(&role, "id = ?", roleId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return role, ErrRoleNotFound
		}
		slog.Error("sql error in get role", "role_id", roleId, "error", result.Error)
		return role, ErrDbAccessFailed
	}

	return role, nil
}

func GetPermission(codename string, db *gorm.DB) (Permission, error) {
	var perm Permission

	result := db.First(&perm, "codename = ?", codename)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return perm, ErrPermissionNotFound
		}
		slog.Error("sql error in get permission", "codename", codename, "error", result.Error)
		return perm, ErrDbAccessFailed
	}

	return perm, nil
}

func GetUserRoleIds(userId uuid.UUID, db *gorm.DB) ([]uuid.UUID, error) {
	var user User
	result := db.Preload("Roles").First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		slog.Error("sql error in get user role ids", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	ids := make([]uuid.UUID, 0, len(user.Roles))
	for _, role := range user.Roles {
		ids = append(ids, role.Id)
	}
	return ids, nil
}
