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

// ContentTypeService is the definition admin surface: declaring content
// types and fields and converging their storage tables.
type ContentTypeService struct {
	db           *gorm.DB
	userAuth     *auth.IdentityProvider
	synchronizer *dynamic.Synchronizer
	registry     *dynamic.Registry
}

func (s *ContentTypeService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/list", s.List)
		r.Get("/{type_id}", s.Info)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.SuperuserOnly())

		r.Post("/create", s.Create)
		r.Post("/{type_id}", s.Update)
		r.Delete("/{type_id}", s.Delete)

		r.Post("/{type_id}/fields", s.AddField)
		r.Post("/{type_id}/fields/{field_id}", s.UpdateField)
		r.Delete("/{type_id}/fields/{field_id}", s.DeleteField)

		r.Post("/{type_id}/sync", s.Sync)
	})

	return r
}

type fieldRequest struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	FieldType string `json:"field_type"`
	Required  bool   `json:"required"`
	Unique    bool   `json:"unique"`

	DefaultValue *string                `json:"default_value"`
	Metadata     map[string]interface{} `json:"metadata"`

	RelationTargetId *uuid.UUID `json:"relation_target_id"`
	RelatedName      string     `json:"related_name"`

	Ordering int `json:"ordering"`
}

type createContentTypeRequest struct {
	Name        string                 `json:"name"`
	Slug        string                 `json:"slug"`
	PluralName  string                 `json:"plural_name"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`

	Fields []fieldRequest `json:"fields"`
}

type createContentTypeResponse struct {
	TypeId     uuid.UUID          `json:"type_id"`
	SyncResult dynamic.SyncResult `json:"sync_result"`
}

// Create declares a content type and synchronizes its storage immediately.
// If synchronization fails the declaration is removed again so a bad
// definition never lingers without a table.
func (s *ContentTypeService) Create(w http.ResponseWriter, r *http.Request) {
	var params createContentTypeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	ct := schema.ContentTypeDefinition{
		Id:          uuid.New(),
		Name:        params.Name,
		Slug:        params.Slug,
		PluralName:  params.PluralName,
		Description: params.Description,
		Metadata:    params.Metadata,
		IsActive:    true,
	}
	for i, f := range params.Fields {
		field, err := newField(ct.Id, f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if field.Ordering == 0 {
			field.Ordering = i
		}
		ct.Fields = append(ct.Fields, field)
	}

	if err := validateDefinition(&ct); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if result := s.db.Create(&ct); result.Error != nil {
		slog.Error("sql error creating content type", "slug", ct.Slug, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	syncResult, err := s.syncType(ct.Id)
	if err != nil {
		// Roll the fresh declaration back, fields included, so creation is
		// all or nothing.
		cleanup := s.db.Transaction(func(txn *gorm.DB) error {
			if result := txn.Where("content_type_id = ?", ct.Id).Delete(&schema.ContentFieldDefinition{}); result.Error != nil {
				return result.Error
			}
			return txn.Delete(&ct).Error
		})
		if cleanup != nil {
			slog.Error("sql error removing content type after failed sync", "slug", ct.Slug, "error", cleanup)
		}
		s.registry.Invalidate(ct.Slug)
		http.Error(w, fmt.Sprintf("error synchronizing storage: %v", err), syncErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, createContentTypeResponse{TypeId: ct.Id, SyncResult: syncResult})
}

type updateContentTypeRequest struct {
	Name        *string                `json:"name"`
	PluralName  *string                `json:"plural_name"`
	Description *string                `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
	IsActive    *bool                  `json:"is_active"`
}

// Update edits the mutable attributes of a content type. The slug is fixed
// for the lifetime of the type since the storage table is named after it.
func (s *ContentTypeService) Update(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateContentTypeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		http.Error(w, err.Error(), contentTypeErrorCode(err))
		return
	}

	if params.Name != nil {
		ct.Name = *params.Name
	}
	if params.PluralName != nil {
		ct.PluralName = *params.PluralName
	}
	if params.Description != nil {
		ct.Description = *params.Description
	}
	if params.Metadata != nil {
		ct.Metadata = params.Metadata
	}
	if params.IsActive != nil {
		ct.IsActive = *params.IsActive
	}
	ct.UpdatedAt = time.Now().UTC()

	if result := s.db.Omit("Fields").Save(&ct); result.Error != nil {
		slog.Error("sql error updating content type", "type_id", typeId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	s.registry.Invalidate(ct.Slug)
	utils.WriteSuccess(w)
}

// Delete deactivates a content type. The storage table and its rows stay in
// place; the type simply disappears from every API surface.
func (s *ContentTypeService) Delete(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		http.Error(w, err.Error(), contentTypeErrorCode(err))
		return
	}

	result := s.db.Model(&ct).Update("is_active", false)
	if result.Error != nil {
		slog.Error("sql error deactivating content type", "type_id", typeId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	s.registry.Invalidate(ct.Slug)
	utils.WriteSuccess(w)
}

type contentTypeInfo struct {
	TypeId      uuid.UUID              `json:"type_id"`
	Name        string                 `json:"name"`
	Slug        string                 `json:"slug"`
	PluralName  string                 `json:"plural_name"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
	IsActive    bool                   `json:"is_active"`
	Table       string                 `json:"table"`

	Fields []fieldInfo `json:"fields"`
}

type fieldInfo struct {
	FieldId   uuid.UUID `json:"field_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	FieldType string    `json:"field_type"`
	Required  bool      `json:"required"`
	Unique    bool      `json:"unique"`

	DefaultValue *string                `json:"default_value"`
	Metadata     map[string]interface{} `json:"metadata"`

	RelationTargetId *uuid.UUID `json:"relation_target_id"`
	RelatedName      string     `json:"related_name"`

	Ordering int `json:"ordering"`
}

func (s *ContentTypeService) List(w http.ResponseWriter, r *http.Request) {
	var types []schema.ContentTypeDefinition
	query := s.db.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("ordering, name")
	}).Order("slug")

	if r.URL.Query().Get("include_inactive") != "true" {
		query = query.Where("is_active = ?", true)
	}

	if result := query.Find(&types); result.Error != nil {
		slog.Error("sql error listing content types", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]contentTypeInfo, 0, len(types))
	for i := range types {
		infos = append(infos, typeInfo(&types[i]))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *ContentTypeService) Info(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		http.Error(w, err.Error(), contentTypeErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, typeInfo(&ct))
}

type addFieldResponse struct {
	FieldId uuid.UUID `json:"field_id"`
}

func (s *ContentTypeService) AddField(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params fieldRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		http.Error(w, err.Error(), contentTypeErrorCode(err))
		return
	}

	field, err := newField(ct.Id, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	for i := range ct.Fields {
		if ct.Fields[i].Slug == field.Slug {
			http.Error(w, fmt.Sprintf("field slug '%v' already exists on type '%v'", field.Slug, ct.Slug), http.StatusConflict)
			return
		}
	}

	if result := s.db.Create(&field); result.Error != nil {
		slog.Error("sql error adding field", "type_id", typeId, "slug", field.Slug, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	s.registry.Invalidate(ct.Slug)
	utils.WriteJsonResponse(w, addFieldResponse{FieldId: field.Id})
}

type updateFieldRequest struct {
	Name     *string                `json:"name"`
	Required *bool                  `json:"required"`
	Metadata map[string]interface{} `json:"metadata"`
	Ordering *int                   `json:"ordering"`

	DefaultValue *string `json:"default_value"`
}

// UpdateField edits the mutable attributes of a field. Slug, kind and
// relation target are fixed once declared; evolving those means adding a new
// field.
func (s *ContentTypeService) UpdateField(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fieldId, err := utils.URLParamUUID(r, "field_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateFieldRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		http.Error(w, err.Error(), contentTypeErrorCode(err))
		return
	}

	field, err := schema.GetField(fieldId, s.db)
	if err != nil || field.ContentTypeId != typeId {
		http.Error(w, schema.ErrFieldNotFound.Error(), http.StatusNotFound)
		return
	}

	if params.Name != nil {
		field.Name = *params.Name
	}
	if params.Required != nil {
		field.Required = *params.Required
	}
	if params.Metadata != nil {
		field.Metadata = params.Metadata
	}
	if params.Ordering != nil {
		field.Ordering = *params.Ordering
	}
	if params.DefaultValue != nil {
		field.DefaultValue = params.DefaultValue
	}

	if result := s.db.Save(&field); result.Error != nil {
		slog.Error("sql error updating field", "field_id", fieldId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	s.registry.Invalidate(ct.Slug)
	utils.WriteSuccess(w)
}

// DeleteField removes a field declaration. The storage column survives so
// existing rows keep their data; it just stops being part of the entity.
func (s *ContentTypeService) DeleteField(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fieldId, err := utils.URLParamUUID(r, "field_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		http.Error(w, err.Error(), contentTypeErrorCode(err))
		return
	}

	field, err := schema.GetField(fieldId, s.db)
	if err != nil || field.ContentTypeId != typeId {
		http.Error(w, schema.ErrFieldNotFound.Error(), http.StatusNotFound)
		return
	}

	if result := s.db.Delete(&field); result.Error != nil {
		slog.Error("sql error deleting field", "field_id", fieldId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	s.registry.Invalidate(ct.Slug)
	utils.WriteSuccess(w)
}

func (s *ContentTypeService) Sync(w http.ResponseWriter, r *http.Request) {
	typeId, err := utils.URLParamUUID(r, "type_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.syncType(typeId)
	if err != nil {
		http.Error(w, err.Error(), syncErrorCode(err))
		return
	}

	utils.WriteJsonResponse(w, result)
}

func (s *ContentTypeService) syncType(typeId uuid.UUID) (dynamic.SyncResult, error) {
	ct, err := schema.GetContentType(typeId, s.db)
	if err != nil {
		return dynamic.SyncResult{}, err
	}
	return s.synchronizer.Sync(&ct)
}

func newField(typeId uuid.UUID, params fieldRequest) (schema.ContentFieldDefinition, error) {
	field := schema.ContentFieldDefinition{
		Id:               uuid.New(),
		ContentTypeId:    typeId,
		Name:             params.Name,
		Slug:             params.Slug,
		FieldType:        params.FieldType,
		Required:         params.Required,
		Unique:           params.Unique,
		DefaultValue:     params.DefaultValue,
		Metadata:         params.Metadata,
		RelationTargetId: params.RelationTargetId,
		RelatedName:      params.RelatedName,
		Ordering:         params.Ordering,
	}
	if err := field.Validate(); err != nil {
		return schema.ContentFieldDefinition{}, err
	}
	return field, nil
}

func validateDefinition(ct *schema.ContentTypeDefinition) error {
	if err := ct.Validate(); err != nil {
		return err
	}
	slugs := map[string]struct{}{}
	for i := range ct.Fields {
		if _, dup := slugs[ct.Fields[i].Slug]; dup {
			return fmt.Errorf("%w: duplicate field slug '%v'", schema.ErrValidation, ct.Fields[i].Slug)
		}
		slugs[ct.Fields[i].Slug] = struct{}{}
	}
	return nil
}

func typeInfo(ct *schema.ContentTypeDefinition) contentTypeInfo {
	info := contentTypeInfo{
		TypeId:      ct.Id,
		Name:        ct.Name,
		Slug:        ct.Slug,
		PluralName:  ct.Plural(),
		Description: ct.Description,
		Metadata:    ct.Metadata,
		IsActive:    ct.IsActive,
		Table:       ct.StorageTable(),
		Fields:      make([]fieldInfo, 0, len(ct.Fields)),
	}
	for i := range ct.Fields {
		f := &ct.Fields[i]
		info.Fields = append(info.Fields, fieldInfo{
			FieldId:          f.Id,
			Name:             f.Name,
			Slug:             f.Slug,
			FieldType:        f.FieldType,
			Required:         f.Required,
			Unique:           f.Unique,
			DefaultValue:     f.DefaultValue,
			Metadata:         f.Metadata,
			RelationTargetId: f.RelationTargetId,
			RelatedName:      f.RelatedName,
			Ordering:         f.Ordering,
		})
	}
	return info
}

func contentTypeErrorCode(err error) int {
	if errors.Is(err, schema.ErrContentTypeNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func syncErrorCode(err error) int {
	switch {
	case errors.Is(err, dynamic.ErrRequiredColumnNeedsDefault), errors.Is(err, schema.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schema.ErrContentTypeNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
