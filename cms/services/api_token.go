package services

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"contro/cms/auth"
	"contro/cms/schema"
	"contro/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenService manages API tokens: opaque credentials tied to a user,
// optionally narrowed to a permission subset.
type TokenService struct {
	db       *gorm.DB
	userAuth *auth.IdentityProvider
}

func (s *TokenService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/create", s.Create)
		r.Get("/list", s.List)
		r.Delete("/{token_id}", s.Revoke)
	})

	return r
}

type createTokenRequest struct {
	Name      string     `json:"name"`
	Codenames []string   `json:"codenames"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type createTokenResponse struct {
	TokenId uuid.UUID `json:"token_id"`

	// Token is shown once at creation and never recoverable afterwards.
	Token string `json:"token"`
}

func (s *TokenService) Create(w http.ResponseWriter, r *http.Request) {
	var params createTokenRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if params.Name == "" {
		http.Error(w, "token name is required", http.StatusUnprocessableEntity)
		return
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(time.Now()) {
		http.Error(w, "token expiration must be in the future", http.StatusUnprocessableEntity)
		return
	}

	token, raw, err := auth.CreateApiToken(s.db, user.Id, params.Name, params.Codenames, params.ExpiresAt)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrPermissionNotFound) {
			code = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), code)
		return
	}

	utils.WriteJsonResponse(w, createTokenResponse{TokenId: token.Id, Token: raw})
}

type tokenInfo struct {
	TokenId     uuid.UUID  `json:"token_id"`
	Name        string     `json:"name"`
	MaskedToken string     `json:"masked_token"`
	Codenames   []string   `json:"codenames"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *TokenService) List(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	query := s.db.Preload("Permissions").Order("created_at")
	// Superusers may audit every token; everyone else sees their own.
	if !user.IsSuperuser || r.URL.Query().Get("all") != "true" {
		query = query.Where("user_id = ?", user.Id)
	}

	var tokens []schema.ApiToken
	if result := query.Find(&tokens); result.Error != nil {
		slog.Error("sql error listing api tokens", "user_id", user.Id, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]tokenInfo, 0, len(tokens))
	for _, token := range tokens {
		info := tokenInfo{
			TokenId:     token.Id,
			Name:        token.Name,
			MaskedToken: token.MaskedToken(),
			Codenames:   []string{},
			IsActive:    token.IsActive,
			ExpiresAt:   token.ExpiresAt,
			LastUsedAt:  token.LastUsedAt,
			CreatedAt:   token.CreatedAt,
		}
		for _, perm := range token.Permissions {
			info.Codenames = append(info.Codenames, perm.Codename)
		}
		infos = append(infos, info)
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *TokenService) Revoke(w http.ResponseWriter, r *http.Request) {
	tokenId, err := utils.URLParamUUID(r, "token_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var token schema.ApiToken
	result := s.db.Where("id = ?", tokenId).Take(&token)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, schema.ErrTokenNotFound.Error(), http.StatusNotFound)
			return
		}
		slog.Error("sql error loading api token", "token_id", tokenId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	if token.UserId != user.Id && !user.IsSuperuser {
		http.Error(w, "api tokens can only be revoked by their owner", http.StatusForbidden)
		return
	}

	if err := auth.RevokeApiToken(s.db, tokenId); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, schema.ErrTokenNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}

	utils.WriteSuccess(w)
}
