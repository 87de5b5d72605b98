package services

import (
	"net/http"
	"strconv"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// EntryService is the REST surface over dynamic entries. All semantics live
// in the entry store; handlers only translate HTTP.
type EntryService struct {
	userAuth *auth.IdentityProvider
	store    *dynamic.EntryStore
}

func (s *EntryService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/{type_slug}/entries", s.List)
		r.Post("/{type_slug}/entries", s.Create)

		r.Get("/{type_slug}/entries/{entry_id}", s.Get)
		r.Post("/{type_slug}/entries/{entry_id}", s.Update)
		r.Delete("/{type_slug}/entries/{entry_id}", s.Delete)

		r.Post("/{type_slug}/entries/{entry_id}/publish", s.Publish)
		r.Post("/{type_slug}/entries/{entry_id}/unpublish", s.Unpublish)
	})

	return r
}

func entrySubject(r *http.Request) (dynamic.Subject, error) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		return dynamic.Subject{}, err
	}
	return dynamic.Subject{User: user, Credential: auth.CredentialFromContext(r)}, nil
}

func (s *EntryService) List(w http.ResponseWriter, r *http.Request) {
	typeSlug, err := utils.URLParam(r, "type_slug")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	opts := dynamic.ListOptions{Status: r.URL.Query().Get("status")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if opts.Limit, err = strconv.Atoi(raw); err != nil {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if opts.Offset, err = strconv.Atoi(raw); err != nil {
			http.Error(w, "invalid offset parameter", http.StatusBadRequest)
			return
		}
	}

	entries, err := s.store.List(subject, typeSlug, opts)
	if err != nil {
		http.Error(w, err.Error(), entryErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, entries)
}

func (s *EntryService) Get(w http.ResponseWriter, r *http.Request) {
	typeSlug, err := utils.URLParam(r, "type_slug")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entryId, err := utils.URLParamUUID(r, "entry_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	entry, err := s.store.Get(subject, typeSlug, entryId)
	if err != nil {
		http.Error(w, err.Error(), entryErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, entry)
}

func (s *EntryService) Create(w http.ResponseWriter, r *http.Request) {
	typeSlug, err := utils.URLParam(r, "type_slug")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var data map[string]interface{}
	if !utils.ParseRequestBody(w, r, &data) {
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	entry, err := s.store.Create(subject, typeSlug, data)
	if err != nil {
		http.Error(w, err.Error(), entryErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, entry)
}

func (s *EntryService) Update(w http.ResponseWriter, r *http.Request) {
	typeSlug, err := utils.URLParam(r, "type_slug")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entryId, err := utils.URLParamUUID(r, "entry_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var data map[string]interface{}
	if !utils.ParseRequestBody(w, r, &data) {
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	entry, err := s.store.Update(subject, typeSlug, entryId, data)
	if err != nil {
		http.Error(w, err.Error(), entryErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, entry)
}

func (s *EntryService) Delete(w http.ResponseWriter, r *http.Request) {
	typeSlug, err := utils.URLParam(r, "type_slug")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entryId, err := utils.URLParamUUID(r, "entry_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := s.store.Delete(subject, typeSlug, entryId); err != nil {
		http.Error(w, err.Error(), entryErrorCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *EntryService) Publish(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.store.Publish)
}

func (s *EntryService) Unpublish(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.store.Unpublish)
}

func (s *EntryService) lifecycle(w http.ResponseWriter, r *http.Request, op func(dynamic.Subject, string, uuid.UUID) (map[string]interface{}, error)) {
	typeSlug, err := utils.URLParam(r, "type_slug")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entryId, err := utils.URLParamUUID(r, "entry_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	entry, err := op(subject, typeSlug, entryId)
	if err != nil {
		http.Error(w, err.Error(), entryErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, entry)
}
