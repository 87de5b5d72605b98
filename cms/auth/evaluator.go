package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"contro/cms/schema"

	"gorm.io/gorm"
)

var ErrPermissionDenied = errors.New("permission denied")

// ActionForMethod maps a transport verb onto a permission action. Unknown
// verbs map to "" which never resolves to a permission.
func ActionForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return schema.ActionView
	case http.MethodPost:
		return schema.ActionAdd
	case http.MethodPut, http.MethodPatch:
		return schema.ActionChange
	case http.MethodDelete:
		return schema.ActionDelete
	default:
		return ""
	}
}

// Evaluator answers "may this subject perform this action on this entity
// type / instance". Both the REST and the GraphQL surface go through it; it
// is read-only against the grant tables.
type Evaluator struct {
	db *gorm.DB
}

func NewEvaluator(db *gorm.DB) *Evaluator {
	return &Evaluator{db: db}
}

// Can is the type-level check: superuser, then role grants, then direct
// grants, all keyed by the canonical codename.
func (e *Evaluator) Can(user schema.User, action, typeSlug string) (bool, error) {
	if !user.IsActive {
		return false, nil
	}
	if user.IsSuperuser {
		return true, nil
	}

	perm, err := e.resolve(action, typeSlug)
	if err != nil {
		if errors.Is(err, schema.ErrPermissionNotFound) {
			return false, nil
		}
		return false, err
	}

	viaRole, err := e.hasRoleGrant(user, perm)
	if err != nil || viaRole {
		return viaRole, err
	}
	return e.hasDirectGrant(user, perm)
}

// CanObject is the object-level check: an ObjectPermission scoped to exactly
// this permission and entity, naming the user directly or any role they hold.
func (e *Evaluator) CanObject(user schema.User, action, typeSlug, objectId string) (bool, error) {
	if !user.IsActive {
		return false, nil
	}
	if user.IsSuperuser {
		return true, nil
	}

	perm, err := e.resolve(action, typeSlug)
	if err != nil {
		if errors.Is(err, schema.ErrPermissionNotFound) {
			return false, nil
		}
		return false, err
	}

	var count int64
	result := e.db.Model(&schema.ObjectPermission{}).
		Where("permission_id = ? AND user_id = ? AND entity_type = ? AND object_id = ?", perm.Id, user.Id, typeSlug, objectId).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking object permission", "user_id", user.Id, "codename", perm.Codename, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	if count > 0 {
		return true, nil
	}

	roleIds, err := schema.GetUserRoleIds(user.Id, e.db)
	if err != nil {
		return false, err
	}
	if len(roleIds) == 0 {
		return false, nil
	}

	result = e.db.Model(&schema.ObjectPermission{}).
		Where("permission_id = ? AND role_id IN ? AND entity_type = ? AND object_id = ?", perm.Id, roleIds, typeSlug, objectId).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking role object permission", "user_id", user.Id, "codename", perm.Codename, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return count > 0, nil
}

// Allowed runs the permission check for the action and applies credential
// narrowing: a scoped API token that declares a permission subset denies
// everything outside it, even for superusers. When an object id is given the
// check is strictly object-level; a type-level grant does not carry it.
func (e *Evaluator) Allowed(user schema.User, cred *Credential, action, typeSlug string, objectId string) (bool, error) {
	var ok bool
	var err error
	if objectId != "" {
		ok, err = e.CanObject(user, action, typeSlug, objectId)
	} else {
		ok, err = e.Can(user, action, typeSlug)
	}
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if cred != nil && !cred.AllowsCodename(schema.PermissionCodename(action, typeSlug)) {
		return false, nil
	}
	return true, nil
}

func (e *Evaluator) resolve(action, typeSlug string) (schema.Permission, error) {
	if action == "" {
		return schema.Permission{}, schema.ErrPermissionNotFound
	}
	return schema.GetPermission(schema.PermissionCodename(action, typeSlug), e.db)
}

func (e *Evaluator) hasRoleGrant(user schema.User, perm schema.Permission) (bool, error) {
	var count int64
	result := e.db.Table("user_roles").
		Joins("JOIN role_permissions ON role_permissions.role_id = user_roles.role_id").
		Where("user_roles.user_id = ? AND role_permissions.permission_id = ?", user.Id, perm.Id).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking role grant", "user_id", user.Id, "codename", perm.Codename, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return count > 0, nil
}

func (e *Evaluator) hasDirectGrant(user schema.User, perm schema.Permission) (bool, error) {
	var count int64
	result := e.db.Table("user_permissions").
		Where("user_id = ? AND permission_id = ?", user.Id, perm.Id).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking direct grant", "user_id", user.Id, "codename", perm.Codename, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return count > 0, nil
}
