package dynamic

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"contro/cms/auth"
	"contro/cms/fieldtype"
	"contro/cms/hooks"
	"contro/cms/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrEntryNotFound = errors.New("entry not found")

// Subject is the acting identity for an entry operation: the authenticated
// user plus, for API token sessions, the credential whose permission subset
// narrows what the user may do.
type Subject struct {
	User       schema.User
	Credential *auth.Credential
}

type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

// EntryStore implements the generic entry semantics shared by every API
// surface: validation, lifecycle, relations and hooks are enforced here so
// the transports stay thin.
type EntryStore struct {
	db        *gorm.DB
	registry  *Registry
	evaluator *auth.Evaluator
	bus       *hooks.Bus
}

func NewEntryStore(db *gorm.DB, registry *Registry, evaluator *auth.Evaluator, bus *hooks.Bus) *EntryStore {
	return &EntryStore{db: db, registry: registry, evaluator: evaluator, bus: bus}
}

// resolveEntity returns the runtime definition for an active content type.
// Inactive types are indistinguishable from missing ones on the entry
// surface.
func (s *EntryStore) resolveEntity(typeSlug string) (*EntityDef, error) {
	def, err := s.registry.Get(typeSlug)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, schema.ErrContentTypeNotFound
	}
	return def, nil
}

func (s *EntryStore) authorize(subject Subject, action, typeSlug, objectId string) error {
	ok, err := s.evaluator.Allowed(subject.User, subject.Credential, action, typeSlug, objectId)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ErrPermissionDenied
	}
	return nil
}

func (s *EntryStore) List(subject Subject, typeSlug string, opts ListOptions) ([]map[string]interface{}, error) {
	def, err := s.resolveEntity(typeSlug)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(subject, schema.ActionView, typeSlug, ""); err != nil {
		return nil, err
	}

	query := s.db.Table(def.Table).Order("created_at")
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var rows []map[string]interface{}
	if result := query.Find(&rows); result.Error != nil {
		slog.Error("sql error listing entries", "type", typeSlug, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	for _, row := range rows {
		normalizeRow(row)
		if err := s.attachRelations(def, row); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (s *EntryStore) Get(subject Subject, typeSlug string, entryId uuid.UUID) (map[string]interface{}, error) {
	def, err := s.resolveEntity(typeSlug)
	if err != nil {
		return nil, err
	}

	row, err := s.loadEntry(def, entryId)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(subject, schema.ActionView, typeSlug, entryId.String()); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntryStore) Create(subject Subject, typeSlug string, data map[string]interface{}) (map[string]interface{}, error) {
	def, err := s.resolveEntity(typeSlug)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(subject, schema.ActionAdd, typeSlug, ""); err != nil {
		return nil, err
	}

	if err := rejectUnknownKeys(def, data); err != nil {
		return nil, err
	}

	populateSlugFields(def, data)

	columns, relations, err := splitAndValidate(def, data, true)
	if err != nil {
		return nil, err
	}

	entryId := uuid.New()
	now := time.Now().UTC()
	columns["id"] = entryId.String()
	columns["created_at"] = now
	columns["updated_at"] = now
	columns["status"] = schema.StatusDraft

	if err := s.bus.Publish(hooks.PreCreate, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: data}); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if result := txn.Table(def.Table).Create(columns); result.Error != nil {
			slog.Error("sql error creating entry", "type", typeSlug, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return s.writeRelations(txn, def, entryId, relations, false)
	})
	if err != nil {
		return nil, err
	}

	row, err := s.loadEntry(def, entryId)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(hooks.PostCreate, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: row}); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntryStore) Update(subject Subject, typeSlug string, entryId uuid.UUID, data map[string]interface{}) (map[string]interface{}, error) {
	def, err := s.resolveEntity(typeSlug)
	if err != nil {
		return nil, err
	}

	if _, err := s.loadEntry(def, entryId); err != nil {
		return nil, err
	}
	if err := s.authorize(subject, schema.ActionChange, typeSlug, entryId.String()); err != nil {
		return nil, err
	}

	if err := rejectUnknownKeys(def, data); err != nil {
		return nil, err
	}

	columns, relations, err := splitAndValidate(def, data, false)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(hooks.PreUpdate, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: data}); err != nil {
		return nil, err
	}

	columns["updated_at"] = time.Now().UTC()

	err = s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Table(def.Table).Where("id = ?", entryId.String()).Updates(columns)
		if result.Error != nil {
			slog.Error("sql error updating entry", "type", typeSlug, "entry_id", entryId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return s.writeRelations(txn, def, entryId, relations, true)
	})
	if err != nil {
		return nil, err
	}

	row, err := s.loadEntry(def, entryId)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(hooks.PostUpdate, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: row}); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntryStore) Delete(subject Subject, typeSlug string, entryId uuid.UUID) error {
	def, err := s.resolveEntity(typeSlug)
	if err != nil {
		return err
	}

	row, err := s.loadEntry(def, entryId)
	if err != nil {
		return err
	}
	if err := s.authorize(subject, schema.ActionDelete, typeSlug, entryId.String()); err != nil {
		return err
	}

	if err := s.bus.Publish(hooks.PreDelete, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: row}); err != nil {
		return err
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		for _, join := range def.JoinTables() {
			result := txn.Exec(fmt.Sprintf("DELETE FROM %v WHERE %v = ?", join.Name, join.OwnerColumn), entryId.String())
			if result.Error != nil {
				slog.Error("sql error clearing relations", "table", join.Name, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		result := txn.Exec(fmt.Sprintf("DELETE FROM %v WHERE id = ?", def.Table), entryId.String())
		if result.Error != nil {
			slog.Error("sql error deleting entry", "type", typeSlug, "entry_id", entryId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		// Grants scoped to the deleted object are meaningless afterwards.
		result = txn.Where("entity_type = ? AND object_id = ?", typeSlug, entryId.String()).
			Delete(&schema.ObjectPermission{})
		if result.Error != nil {
			slog.Error("sql error clearing object permissions", "type", typeSlug, "entry_id", entryId, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.bus.Publish(hooks.PostDelete, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: row})
}

// Publish moves an entry to the published state. The first publication
// stamps published_at; republishing after an unpublish stamps it again, but
// publishing an already published entry leaves the original timestamp.
func (s *EntryStore) Publish(subject Subject, typeSlug string, entryId uuid.UUID) (map[string]interface{}, error) {
	return s.transition(subject, typeSlug, entryId, hooks.PrePublish, hooks.PostPublish,
		func(row map[string]interface{}) map[string]interface{} {
			updates := map[string]interface{}{"status": schema.StatusPublished, "updated_at": time.Now().UTC()}
			if row["published_at"] == nil {
				updates["published_at"] = time.Now().UTC()
			}
			return updates
		})
}

func (s *EntryStore) Unpublish(subject Subject, typeSlug string, entryId uuid.UUID) (map[string]interface{}, error) {
	return s.transition(subject, typeSlug, entryId, hooks.PreUnpublish, hooks.PostUnpublish,
		func(row map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{
				"status":       schema.StatusDraft,
				"published_at": nil,
				"updated_at":   time.Now().UTC(),
			}
		})
}

func (s *EntryStore) transition(subject Subject, typeSlug string, entryId uuid.UUID, preEvent, postEvent string, updatesFor func(row map[string]interface{}) map[string]interface{}) (map[string]interface{}, error) {
	def, err := s.resolveEntity(typeSlug)
	if err != nil {
		return nil, err
	}

	row, err := s.loadEntry(def, entryId)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(subject, schema.ActionChange, typeSlug, entryId.String()); err != nil {
		return nil, err
	}

	if err := s.bus.Publish(preEvent, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: row}); err != nil {
		return nil, err
	}

	result := s.db.Table(def.Table).Where("id = ?", entryId.String()).Updates(updatesFor(row))
	if result.Error != nil {
		slog.Error("sql error updating entry status", "type", typeSlug, "entry_id", entryId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	row, err = s.loadEntry(def, entryId)
	if err != nil {
		return nil, err
	}

	if err := s.bus.Publish(postEvent, hooks.Payload{TypeSlug: typeSlug, EntityId: entryId.String(), Data: row}); err != nil {
		return nil, err
	}
	return row, nil
}

func (s *EntryStore) loadEntry(def *EntityDef, entryId uuid.UUID) (map[string]interface{}, error) {
	row := map[string]interface{}{}
	result := s.db.Table(def.Table).Where("id = ?", entryId.String()).Take(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		slog.Error("sql error loading entry", "type", def.Slug, "entry_id", entryId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	normalizeRow(row)
	if err := s.attachRelations(def, row); err != nil {
		return nil, err
	}
	return row, nil
}

// normalizeRow unwraps the *interface{} cells gorm leaves behind when
// scanning into a map, so callers see plain values.
func normalizeRow(row map[string]interface{}) {
	for key, value := range row {
		if ptr, ok := value.(*interface{}); ok {
			if ptr == nil {
				row[key] = nil
			} else {
				row[key] = *ptr
			}
		}
	}
}

// attachRelations adds the multi-relation fields to a row, each as the list
// of related ids read from its join table.
func (s *EntryStore) attachRelations(def *EntityDef, row map[string]interface{}) error {
	for i := range def.Fields {
		field := &def.Fields[i]
		if field.Join == nil {
			continue
		}

		var ids []string
		result := s.db.Table(field.Join.Name).
			Where(field.Join.OwnerColumn+" = ?", row["id"]).
			Order(field.Join.TargetColumn).
			Pluck(field.Join.TargetColumn, &ids)
		if result.Error != nil {
			slog.Error("sql error loading relations", "table", field.Join.Name, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		row[field.Def.Slug] = ids
	}
	return nil
}

// writeRelations stores the related id sets for multi-relation fields. On
// update the provided sets replace the existing rows entirely; omitted fields
// are untouched.
func (s *EntryStore) writeRelations(txn *gorm.DB, def *EntityDef, entryId uuid.UUID, relations map[string][]string, replace bool) error {
	for slug, ids := range relations {
		field := def.Field(slug)
		if field == nil || field.Join == nil {
			continue
		}

		if replace {
			result := txn.Exec(fmt.Sprintf("DELETE FROM %v WHERE %v = ?", field.Join.Name, field.Join.OwnerColumn), entryId.String())
			if result.Error != nil {
				slog.Error("sql error replacing relations", "table", field.Join.Name, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		for _, id := range ids {
			row := map[string]interface{}{
				field.Join.OwnerColumn:  entryId.String(),
				field.Join.TargetColumn: id,
			}
			if result := txn.Table(field.Join.Name).Create(row); result.Error != nil {
				slog.Error("sql error adding relation", "table", field.Join.Name, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
	}
	return nil
}

// rejectUnknownKeys refuses payload keys that are neither declared fields nor
// writable: lifecycle columns only change through dedicated operations.
func rejectUnknownKeys(def *EntityDef, data map[string]interface{}) error {
	for key := range data {
		if _, reserved := schema.ReservedFieldSlugs[key]; reserved {
			return fmt.Errorf("%w: field '%v' is managed by the system", schema.ErrValidation, key)
		}
		if def.Field(key) == nil {
			return fmt.Errorf("%w: unknown field '%v' for type '%v'", schema.ErrValidation, key, def.Slug)
		}
	}
	return nil
}

// splitAndValidate validates the payload and splits it into column values and
// multi-relation id sets. When full is set, required fields must be present
// or carry a storage default.
func splitAndValidate(def *EntityDef, data map[string]interface{}, full bool) (map[string]interface{}, map[string][]string, error) {
	columns := map[string]interface{}{}
	relations := map[string][]string{}

	for i := range def.Fields {
		field := &def.Fields[i]
		value, present := data[field.Def.Slug]

		if !present {
			if full && field.Def.Required && field.Def.DefaultValue == nil {
				return nil, nil, fmt.Errorf("%w: field '%v' is required", fieldtype.ErrInvalidValue, field.Def.Slug)
			}
			continue
		}

		if err := fieldtype.Validate(&field.Def, value); err != nil {
			return nil, nil, err
		}

		if field.Join != nil {
			ids := []string{}
			if value != nil {
				for _, raw := range value.([]interface{}) {
					ids = append(ids, fmt.Sprintf("%v", raw))
				}
			}
			relations[field.Def.Slug] = ids
			continue
		}

		columns[field.Def.Slug] = value
	}

	return columns, relations, nil
}

// populateSlugFields fills empty slug fields whose metadata names a source
// field, deriving the value with Slugify.
func populateSlugFields(def *EntityDef, data map[string]interface{}) {
	for i := range def.Fields {
		field := &def.Fields[i]
		if field.Def.FieldType != schema.FieldSlug {
			continue
		}
		if value, present := data[field.Def.Slug]; present && value != nil && value != "" {
			continue
		}

		source, ok := field.Def.Metadata["source"].(string)
		if !ok {
			continue
		}
		raw, ok := data[source].(string)
		if !ok || raw == "" {
			continue
		}
		data[field.Def.Slug] = Slugify(raw)
	}
}

// Slugify lowercases the input and collapses runs of non-alphanumerics to
// single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
