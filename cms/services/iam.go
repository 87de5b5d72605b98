package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/cms/schema"
	"contro/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IamService manages users, roles, permission grants and object scoped
// grants.
type IamService struct {
	db       *gorm.DB
	userAuth *auth.IdentityProvider
}

func (s *IamService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Post("/signup", s.Signup)
		r.Get("/login", s.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/user/info", s.Info)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.SuperuserOnly())

		r.Get("/user/list", s.ListUsers)
		r.Delete("/user/{user_id}", s.DeleteUser)
		r.Post("/user/{user_id}/superuser", s.PromoteSuperuser)
		r.Delete("/user/{user_id}/superuser", s.DemoteSuperuser)

		r.Post("/role/create", s.CreateRole)
		r.Get("/role/list", s.ListRoles)
		r.Delete("/role/{role_id}", s.DeleteRole)

		r.Post("/role/{role_id}/users/{user_id}", s.AssignRole)
		r.Delete("/role/{role_id}/users/{user_id}", s.UnassignRole)

		r.Post("/role/{role_id}/permissions", s.GrantToRole)
		r.Delete("/role/{role_id}/permissions", s.RevokeFromRole)

		r.Post("/user/{user_id}/permissions", s.GrantToUser)
		r.Delete("/user/{user_id}/permissions", s.RevokeFromUser)

		r.Post("/object-permission/create", s.CreateObjectPermission)
		r.Get("/object-permission/list", s.ListObjectPermissions)
		r.Delete("/object-permission/{grant_id}", s.DeleteObjectPermission)
	})

	return r
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupResponse struct {
	UserId uuid.UUID `json:"user_id"`
}

func (s *IamService) Signup(w http.ResponseWriter, r *http.Request) {
	var params signupRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	userId, err := s.userAuth.CreateUser(params.Username, params.Email, params.Password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrEmailAlreadyInUse), errors.Is(err, auth.ErrUsernameAlreadyInUse):
			responseCode = http.StatusConflict
		}
		http.Error(w, err.Error(), responseCode)
		return
	}

	utils.WriteJsonResponse(w, signupResponse{UserId: userId})
}

type loginResponse struct {
	UserId      uuid.UUID `json:"user_id"`
	AccessToken string    `json:"access_token"`
}

func (s *IamService) Login(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	login, err := s.userAuth.Login(email, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUserNotFoundByEmail):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken})
}

type userInfo struct {
	UserId      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	IsSuperuser bool      `json:"is_superuser"`
	IsActive    bool      `json:"is_active"`
	Roles       []string  `json:"roles"`
}

func userInfoOf(user *schema.User) userInfo {
	info := userInfo{
		UserId:      user.Id,
		Username:    user.Username,
		Email:       user.Email,
		IsSuperuser: user.IsSuperuser,
		IsActive:    user.IsActive,
		Roles:       make([]string, 0, len(user.Roles)),
	}
	for _, role := range user.Roles {
		info.Roles = append(info.Roles, role.Name)
	}
	return info
}

func (s *IamService) Info(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	utils.WriteJsonResponse(w, userInfoOf(&user))
}

func (s *IamService) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []schema.User
	if result := s.db.Preload("Roles").Order("username").Find(&users); result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]userInfo, 0, len(users))
	for i := range users {
		infos = append(infos, userInfoOf(&users[i]))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *IamService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Where("user_id = ?", userId).Delete(&schema.ObjectPermission{})
		if result.Error != nil {
			slog.Error("sql error deleting user object permissions", "user_id", userId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if result := txn.Where("user_id = ?", userId).Delete(&schema.ApiToken{}); result.Error != nil {
			slog.Error("sql error deleting user api tokens", "user_id", userId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		for _, table := range []string{"user_roles", "user_permissions"} {
			if result := txn.Exec(fmt.Sprintf("DELETE FROM %v WHERE user_id = ?", table), userId); result.Error != nil {
				slog.Error("sql error deleting user associations", "user_id", userId, "table", table, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		result = txn.Delete(&schema.User{Id: userId})
		if result.Error != nil {
			slog.Error("sql error deleting user", "user_id", userId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			return schema.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrUserNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}

	utils.WriteSuccess(w)
}

func (s *IamService) PromoteSuperuser(w http.ResponseWriter, r *http.Request) {
	s.setSuperuser(w, r, true)
}

func (s *IamService) DemoteSuperuser(w http.ResponseWriter, r *http.Request) {
	s.setSuperuser(w, r, false)
}

func (s *IamService) setSuperuser(w http.ResponseWriter, r *http.Request, value bool) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.db.Model(&schema.User{Id: userId}).Update("is_superuser", value)
	if result.Error != nil {
		slog.Error("sql error updating superuser flag", "user_id", userId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, schema.ErrUserNotFound.Error(), http.StatusNotFound)
		return
	}

	utils.WriteSuccess(w)
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

type createRoleResponse struct {
	RoleId uuid.UUID `json:"role_id"`
}

func (s *IamService) CreateRole(w http.ResponseWriter, r *http.Request) {
	var params createRoleRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" {
		http.Error(w, "role name is required", http.StatusUnprocessableEntity)
		return
	}

	slug := params.Slug
	if slug == "" {
		slug = dynamic.Slugify(params.Name)
	}

	role := schema.Role{Id: uuid.New(), Name: params.Name, Slug: slug, Description: params.Description}
	if result := s.db.Create(&role); result.Error != nil {
		slog.Error("sql error creating role", "name", params.Name, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createRoleResponse{RoleId: role.Id})
}

type roleInfo struct {
	RoleId      uuid.UUID `json:"role_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
}

func (s *IamService) ListRoles(w http.ResponseWriter, r *http.Request) {
	var roles []schema.Role
	if result := s.db.Preload("Permissions").Order("name").Find(&roles); result.Error != nil {
		slog.Error("sql error listing roles", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]roleInfo, 0, len(roles))
	for _, role := range roles {
		info := roleInfo{RoleId: role.Id, Name: role.Name, Description: role.Description, Permissions: []string{}}
		for _, perm := range role.Permissions {
			info.Permissions = append(info.Permissions, perm.Codename)
		}
		infos = append(infos, info)
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *IamService) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Where("role_id = ?", roleId).Delete(&schema.ObjectPermission{})
		if result.Error != nil {
			slog.Error("sql error deleting role object permissions", "role_id", roleId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		for _, table := range []string{"user_roles", "role_permissions"} {
			if result := txn.Exec(fmt.Sprintf("DELETE FROM %v WHERE role_id = ?", table), roleId); result.Error != nil {
				slog.Error("sql error deleting role associations", "role_id", roleId, "table", table, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		result = txn.Delete(&schema.Role{Id: roleId})
		if result.Error != nil {
			slog.Error("sql error deleting role", "role_id", roleId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			return schema.ErrRoleNotFound
		}
		return nil
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrRoleNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}

	utils.WriteSuccess(w)
}

func (s *IamService) AssignRole(w http.ResponseWriter, r *http.Request) {
	role, user, err := s.roleAndUser(r)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	if err := s.db.Model(&user).Association("Roles").Append(&role); err != nil {
		slog.Error("sql error assigning role", "role_id", role.Id, "user_id", user.Id, "error", err)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *IamService) UnassignRole(w http.ResponseWriter, r *http.Request) {
	role, user, err := s.roleAndUser(r)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	if err := s.db.Model(&user).Association("Roles").Delete(&role); err != nil {
		slog.Error("sql error unassigning role", "role_id", role.Id, "user_id", user.Id, "error", err)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *IamService) roleAndUser(r *http.Request) (schema.Role, schema.User, error) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		return schema.Role{}, schema.User{}, CodedError(err, http.StatusBadRequest)
	}
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		return schema.Role{}, schema.User{}, CodedError(err, http.StatusBadRequest)
	}

	role, err := schema.GetRole(roleId, s.db)
	if err != nil {
		return schema.Role{}, schema.User{}, err
	}
	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		return schema.Role{}, schema.User{}, err
	}
	return role, user, nil
}

type grantRequest struct {
	Codenames []string `json:"codenames"`
}

func (s *IamService) GrantToRole(w http.ResponseWriter, r *http.Request) {
	s.updateRoleGrants(w, r, func(role *schema.Role, perms []schema.Permission) error {
		return s.db.Model(role).Association("Permissions").Append(&perms)
	})
}

func (s *IamService) RevokeFromRole(w http.ResponseWriter, r *http.Request) {
	s.updateRoleGrants(w, r, func(role *schema.Role, perms []schema.Permission) error {
		return s.db.Model(role).Association("Permissions").Delete(&perms)
	})
}

func (s *IamService) updateRoleGrants(w http.ResponseWriter, r *http.Request, apply func(*schema.Role, []schema.Permission) error) {
	roleId, err := utils.URLParamUUID(r, "role_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params grantRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	role, err := schema.GetRole(roleId, s.db)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	perms, err := s.resolveCodenames(params.Codenames)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	if err := apply(&role, perms); err != nil {
		slog.Error("sql error updating role grants", "role_id", roleId, "error", err)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *IamService) GrantToUser(w http.ResponseWriter, r *http.Request) {
	s.updateUserGrants(w, r, func(user *schema.User, perms []schema.Permission) error {
		return s.db.Model(user).Association("Permissions").Append(&perms)
	})
}

func (s *IamService) RevokeFromUser(w http.ResponseWriter, r *http.Request) {
	s.updateUserGrants(w, r, func(user *schema.User, perms []schema.Permission) error {
		return s.db.Model(user).Association("Permissions").Delete(&perms)
	})
}

func (s *IamService) updateUserGrants(w http.ResponseWriter, r *http.Request, apply func(*schema.User, []schema.Permission) error) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params grantRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	perms, err := s.resolveCodenames(params.Codenames)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	if err := apply(&user, perms); err != nil {
		slog.Error("sql error updating user grants", "user_id", userId, "error", err)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteSuccess(w)
}

func (s *IamService) resolveCodenames(codenames []string) ([]schema.Permission, error) {
	perms := make([]schema.Permission, 0, len(codenames))
	for _, codename := range codenames {
		perm, err := schema.GetPermission(codename, s.db)
		if err != nil {
			if errors.Is(err, schema.ErrPermissionNotFound) {
				return nil, fmt.Errorf("%w: '%v'", schema.ErrPermissionNotFound, codename)
			}
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

type createObjectPermissionRequest struct {
	Codename   string     `json:"codename"`
	UserId     *uuid.UUID `json:"user_id"`
	RoleId     *uuid.UUID `json:"role_id"`
	EntityType string     `json:"entity_type"`
	ObjectId   string     `json:"object_id"`
}

type createObjectPermissionResponse struct {
	GrantId uuid.UUID `json:"grant_id"`
}

func (s *IamService) CreateObjectPermission(w http.ResponseWriter, r *http.Request) {
	var params createObjectPermissionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	perm, err := schema.GetPermission(params.Codename, s.db)
	if err != nil {
		http.Error(w, err.Error(), iamErrorCode(err))
		return
	}

	grant := schema.ObjectPermission{
		Id:           uuid.New(),
		PermissionId: perm.Id,
		UserId:       params.UserId,
		RoleId:       params.RoleId,
		EntityType:   params.EntityType,
		ObjectId:     params.ObjectId,
		CreatedAt:    time.Now().UTC(),
	}
	if err := grant.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if result := s.db.Create(&grant); result.Error != nil {
		slog.Error("sql error creating object permission", "codename", params.Codename, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, createObjectPermissionResponse{GrantId: grant.Id})
}

type objectPermissionInfo struct {
	GrantId    uuid.UUID  `json:"grant_id"`
	Codename   string     `json:"codename"`
	UserId     *uuid.UUID `json:"user_id"`
	RoleId     *uuid.UUID `json:"role_id"`
	EntityType string     `json:"entity_type"`
	ObjectId   string     `json:"object_id"`
}

func (s *IamService) ListObjectPermissions(w http.ResponseWriter, r *http.Request) {
	query := s.db.Preload("Permission").Order("created_at")
	if entityType := r.URL.Query().Get("entity_type"); entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if objectId := r.URL.Query().Get("object_id"); objectId != "" {
		query = query.Where("object_id = ?", objectId)
	}

	var grants []schema.ObjectPermission
	if result := query.Find(&grants); result.Error != nil {
		slog.Error("sql error listing object permissions", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]objectPermissionInfo, 0, len(grants))
	for _, grant := range grants {
		info := objectPermissionInfo{
			GrantId:    grant.Id,
			UserId:     grant.UserId,
			RoleId:     grant.RoleId,
			EntityType: grant.EntityType,
			ObjectId:   grant.ObjectId,
		}
		if grant.Permission != nil {
			info.Codename = grant.Permission.Codename
		}
		infos = append(infos, info)
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *IamService) DeleteObjectPermission(w http.ResponseWriter, r *http.Request) {
	grantId, err := utils.URLParamUUID(r, "grant_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.db.Delete(&schema.ObjectPermission{Id: grantId})
	if result.Error != nil {
		slog.Error("sql error deleting object permission", "grant_id", grantId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "object permission not found", http.StatusNotFound)
		return
	}

	utils.WriteSuccess(w)
}

func iamErrorCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	switch {
	case errors.Is(err, schema.ErrUserNotFound),
		errors.Is(err, schema.ErrRoleNotFound),
		errors.Is(err, schema.ErrPermissionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
