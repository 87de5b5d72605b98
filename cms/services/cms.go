package services

import (
	"log"
	"net/http"
	"os"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// Cms composes the API services over one shared set of backing components.
type Cms struct {
	contentType ContentTypeService
	entries     EntryService
	iam         IamService
	tokens      TokenService
	graphql     GraphqlService

	db *gorm.DB
}

func NewCms(
	db *gorm.DB, userAuth *auth.IdentityProvider, synchronizer *dynamic.Synchronizer, registry *dynamic.Registry, store *dynamic.EntryStore,
) Cms {
	return Cms{
		contentType: ContentTypeService{
			db:           db,
			userAuth:     userAuth,
			synchronizer: synchronizer,
			registry:     registry,
		},
		entries: EntryService{userAuth: userAuth, store: store},
		iam:     IamService{db: db, userAuth: userAuth},
		tokens:  TokenService{db: db, userAuth: userAuth},
		graphql: GraphqlService{
			db:       db,
			userAuth: userAuth,
			registry: registry,
			store:    store,
		},
		db: db,
	}
}

func (c *Cms) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/content-types", c.contentType.Routes())
	r.Mount("/content", c.entries.Routes())
	r.Mount("/iam", c.iam.Routes())
	r.Mount("/api-token", c.tokens.Routes())
	r.Mount("/graphql", c.graphql.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
