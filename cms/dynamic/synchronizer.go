package dynamic

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"contro/cms/schema"
	"contro/cms/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	ErrNotRegistered = errors.New("no resolver registered for dynamic entities")

	// ErrRequiredColumnNeedsDefault rejects adding a NOT NULL column without a
	// default to a table that may already hold rows.
	ErrRequiredColumnNeedsDefault = errors.New("cannot add a required column without a default")
)

var (
	syncTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "cms_schema_sync_total", Help: "Schema synchronization passes"})
	syncFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "cms_schema_sync_failures_total", Help: "Failed schema synchronization passes"})
)

type SyncResult struct {
	CreatedTable      bool     `json:"created_table"`
	AddedColumns      []string `json:"added_columns"`
	CreatedJoinTables []string `json:"created_join_tables"`
}

// Synchronizer converges physical storage with declared content types and
// registers the resulting entity definitions. Calls for the same slug are
// serialized on a per-slug lock; different slugs proceed in parallel,
// ordered only by the relation dependency graph.
type Synchronizer struct {
	db       *gorm.DB
	backend  storage.Backend
	registry *Registry

	locks sync.Map // slug -> *sync.Mutex
}

func NewSynchronizer(db *gorm.DB, backend storage.Backend, registry *Registry) *Synchronizer {
	s := &Synchronizer{db: db, backend: backend, registry: registry}
	registry.SetResolver(s.resolveSlug)
	return s
}

// Sync converges the content type's storage table with its field definitions
// and registers the runtime entity definition. Relation targets are
// synchronized first, recursively, with a visited set breaking cycles.
//
// Columns are added one at a time without a wrapping transaction: a failure
// mid-pass leaves the columns added earlier in the same pass in place. DDL
// rollback support is too uneven across engines to pretend otherwise.
func (s *Synchronizer) Sync(ct *schema.ContentTypeDefinition) (SyncResult, error) {
	result, err := s.sync(ct, map[string]struct{}{})
	if err != nil {
		syncFailures.Inc()
		return SyncResult{}, err
	}
	return result, nil
}

func (s *Synchronizer) resolveSlug(slug string) (*EntityDef, error) {
	ct, err := schema.GetContentTypeBySlug(slug, s.db)
	if err != nil {
		return nil, err
	}

	if _, err := s.Sync(&ct); err != nil {
		return nil, err
	}
	return s.registry.Get(slug)
}

func (s *Synchronizer) sync(ct *schema.ContentTypeDefinition, visited map[string]struct{}) (SyncResult, error) {
	if _, seen := visited[ct.Slug]; seen {
		// Already synchronized in this call tree; just refresh the descriptor.
		def, err := BuildDef(ct)
		if err != nil {
			return SyncResult{}, err
		}
		s.registry.Register(def)
		return SyncResult{AddedColumns: []string{}, CreatedJoinTables: []string{}}, nil
	}
	visited[ct.Slug] = struct{}{}

	if err := s.syncRelationTargets(ct, visited); err != nil {
		return SyncResult{}, err
	}

	lock := s.lockFor(ct.Slug)
	lock.Lock()
	defer lock.Unlock()

	def, err := BuildDef(ct)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{AddedColumns: []string{}, CreatedJoinTables: []string{}}

	exists, err := s.backend.TableExists(def.Table)
	if err != nil {
		return SyncResult{}, err
	}

	if !exists {
		if err := s.backend.CreateTable(storage.TableSpec{Name: def.Table, Columns: def.TableColumns()}); err != nil {
			return SyncResult{}, err
		}
		result.CreatedTable = true
	} else {
		added, err := s.addMissingColumns(def)
		if err != nil {
			return SyncResult{}, err
		}
		result.AddedColumns = added
	}

	createdJoins, err := s.ensureJoinTables(def)
	if err != nil {
		return SyncResult{}, err
	}
	result.CreatedJoinTables = createdJoins

	if err := s.ensurePermissions(ct); err != nil {
		return SyncResult{}, err
	}

	s.registry.Register(def)
	syncTotal.Inc()
	slog.Info("schema sync complete", "slug", ct.Slug,
		"created_table", result.CreatedTable,
		"added_columns", len(result.AddedColumns),
		"created_join_tables", len(result.CreatedJoinTables))

	return result, nil
}

// syncRelationTargets synchronizes every distinct relation target referenced
// by the type's fields, excluding self-references, so dependency tables exist
// before any column references them.
func (s *Synchronizer) syncRelationTargets(ct *schema.ContentTypeDefinition, visited map[string]struct{}) error {
	seen := map[uuid.UUID]struct{}{}
	for i := range ct.Fields {
		field := &ct.Fields[i]
		if !field.IsRelation() || field.RelationTargetId == nil {
			continue
		}
		if *field.RelationTargetId == ct.Id {
			continue
		}
		if _, done := seen[*field.RelationTargetId]; done {
			continue
		}
		seen[*field.RelationTargetId] = struct{}{}

		target, err := schema.GetContentType(*field.RelationTargetId, s.db)
		if err != nil {
			return fmt.Errorf("error loading relation target of field '%v': %w", field.Slug, err)
		}

		if _, err := s.sync(&target, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) addMissingColumns(def *EntityDef) ([]string, error) {
	existing, err := s.backend.ColumnsOf(def.Table)
	if err != nil {
		return nil, err
	}

	added := []string{}
	for i := range def.Fields {
		column := def.Fields[i].Column
		if column == nil {
			continue
		}
		if _, ok := existing[column.Name]; ok {
			continue
		}

		if column.NotNull && column.Default == nil {
			return nil, fmt.Errorf("%w: field '%v' on '%v'", ErrRequiredColumnNeedsDefault, column.Name, def.Slug)
		}

		if err := s.backend.AddColumn(def.Table, *column); err != nil {
			return nil, err
		}
		added = append(added, column.Name)
	}

	return added, nil
}

func (s *Synchronizer) ensureJoinTables(def *EntityDef) ([]string, error) {
	created := []string{}
	for _, join := range def.JoinTables() {
		exists, err := s.backend.TableExists(join.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := s.backend.CreateJoinTable(join); err != nil {
			return nil, err
		}
		created = append(created, join.Name)
	}
	return created, nil
}

// ensurePermissions guarantees the four standard action permissions exist for
// the entity type under their canonical codenames.
func (s *Synchronizer) ensurePermissions(ct *schema.ContentTypeDefinition) error {
	for _, action := range []string{schema.ActionView, schema.ActionAdd, schema.ActionChange, schema.ActionDelete} {
		codename := schema.PermissionCodename(action, ct.Slug)

		// The destination must have a zero Id so the lookup matches on the
		// codename alone.
		var perm schema.Permission
		result := s.db.Where(schema.Permission{Codename: codename}).
			Attrs(schema.Permission{Id: uuid.New(), Name: fmt.Sprintf("Can %v %v", action, ct.Name)}).
			FirstOrCreate(&perm)
		if result.Error != nil {
			slog.Error("sql error ensuring permission", "codename", codename, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
	}
	return nil
}

func (s *Synchronizer) lockFor(slug string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(slug, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
