package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contro/cms/schema"
	"contro/utils"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailAlreadyInUse    = errors.New("email is already in use")
	ErrUsernameAlreadyInUse = errors.New("username is already in use")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserNotFoundByEmail  = errors.New("no user found with given email")
)

// IdentityProvider issues sessions and seeds the initial superuser. Token
// issuance mechanics live here; the rest of the system only consumes the
// authenticated user from the request context.
type IdentityProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
}

type ProviderArgs struct {
	Secret        []byte
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

func NewIdentityProvider(db *gorm.DB, args ProviderArgs) (*IdentityProvider, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(args.AdminPassword), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting admin password: %w", err)
	}

	var existing schema.User
	result := db.Where("email = ?", args.AdminEmail).First(&existing)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Error("sql error checking for initial admin", "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
		admin := schema.User{
			Id:          uuid.New(),
			Username:    args.AdminUsername,
			Email:       args.AdminEmail,
			Password:    hashedPwd,
			IsSuperuser: true,
			IsActive:    true,
		}
		if result := db.Create(&admin); result.Error != nil {
			slog.Error("sql error creating initial admin", "error", result.Error)
			return nil, schema.ErrDbAccessFailed
		}
	}

	return &IdentityProvider{jwtManager: NewJwtManager(args.Secret), db: db}, nil
}

func (p *IdentityProvider) CreateUser(username, email, password string) (uuid.UUID, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error encrypting password: %w", err)
	}

	var count int64
	if result := p.db.Model(&schema.User{}).Where("email = ?", email).Count(&count); result.Error != nil {
		slog.Error("sql error checking email uniqueness", "error", result.Error)
		return uuid.Nil, schema.ErrDbAccessFailed
	}
	if count > 0 {
		return uuid.Nil, ErrEmailAlreadyInUse
	}
	if result := p.db.Model(&schema.User{}).Where("username = ?", username).Count(&count); result.Error != nil {
		slog.Error("sql error checking username uniqueness", "error", result.Error)
		return uuid.Nil, schema.ErrDbAccessFailed
	}
	if count > 0 {
		return uuid.Nil, ErrUsernameAlreadyInUse
	}

	user := schema.User{
		Id:        uuid.New(),
		Username:  username,
		Email:     email,
		Password:  hashedPwd,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if result := p.db.Create(&user); result.Error != nil {
		slog.Error("sql error creating user", "error", result.Error)
		return uuid.Nil, schema.ErrDbAccessFailed
	}

	return user.Id, nil
}

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

func (p *IdentityProvider) Login(email, password string) (LoginResult, error) {
	var user schema.User
	result := p.db.Where("email = ?", email).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return LoginResult{}, ErrUserNotFoundByEmail
		}
		slog.Error("sql error in login", "error", result.Error)
		return LoginResult{}, schema.ErrDbAccessFailed
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := p.jwtManager.CreateUserJwt(user.Id)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{UserId: user.Id, AccessToken: token}, nil
}

func (p *IdentityProvider) addUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			userId, err := userIdFromClaims(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			user, err := schema.GetUser(userId, p.db)
			if err != nil {
				if errors.Is(err, schema.ErrUserNotFound) {
					http.Error(w, err.Error(), http.StatusUnauthorized)
				} else {
					http.Error(w, err.Error(), http.StatusInternalServerError)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		}
		return http.HandlerFunc(handler)
	}
}

// AuthMiddleware authenticates a request either by API token (Authorization:
// Token / X-API-Token headers) or by session JWT, stamping the user and, for
// tokens, the scoped credential into the request context.
func (p *IdentityProvider) AuthMiddleware() []func(http.Handler) http.Handler {
	sessionChain := []func(http.Handler) http.Handler{
		p.jwtManager.Verifier(), p.jwtManager.Authenticator(), p.addUserToContext(),
	}

	either := func(next http.Handler) http.Handler {
		sessionHandler := next
		for i := len(sessionChain) - 1; i >= 0; i-- {
			sessionHandler = sessionChain[i](sessionHandler)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := utils.TokenFromHeaders(r)
			if raw == "" {
				sessionHandler.ServeHTTP(w, r)
				return
			}

			token, err := ValidateApiToken(p.db, raw)
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidToken):
					http.Error(w, err.Error(), http.StatusUnauthorized)
				case errors.Is(err, ErrExpiredToken):
					http.Error(w, err.Error(), http.StatusForbidden)
				default:
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			user, err := schema.GetUser(token.UserId, p.db)
			if err != nil {
				http.Error(w, fmt.Sprintf("unable to get user: %v", err), http.StatusInternalServerError)
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			ctx = ContextWithCredential(ctx, &Credential{Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	return []func(http.Handler) http.Handler{either}
}

// SuperuserOnly guards admin endpoints.
func SuperuserOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsSuperuser {
				http.Error(w, fmt.Sprintf("user %v is not an administrator", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}
