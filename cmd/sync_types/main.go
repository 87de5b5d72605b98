package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"contro/cms/dynamic"
	"contro/cms/schema"
	"contro/cms/storage"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// sync_types seeds content type definitions from a declaration file and
// converges their storage tables. Rerunning with the same file is a no-op.

type fieldDecl struct {
	Name      string `yaml:"name"`
	Slug      string `yaml:"slug"`
	FieldType string `yaml:"field_type"`
	Required  bool   `yaml:"required"`
	Unique    bool   `yaml:"unique"`

	DefaultValue *string                `yaml:"default_value"`
	Metadata     map[string]interface{} `yaml:"metadata"`

	// RelationTarget references another declared type by slug.
	RelationTarget string `yaml:"relation_target"`
	RelatedName    string `yaml:"related_name"`

	Ordering int `yaml:"ordering"`
}

type typeDecl struct {
	Name        string                 `yaml:"name"`
	Slug        string                 `yaml:"slug"`
	PluralName  string                 `yaml:"plural_name"`
	Description string                 `yaml:"description"`
	Metadata    map[string]interface{} `yaml:"metadata"`

	Fields []fieldDecl `yaml:"fields"`
}

type declarationFile struct {
	ContentTypes []typeDecl `yaml:"content_types"`
}

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func openDb(uri string) *gorm.DB {
	var dialector gorm.Dialector
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		dialector = postgres.Open(postgresDsn(uri))
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(uri, "sqlite://"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}
	return db
}

func main() {
	dbUri := flag.String("db_uri", "", "Database URI")
	file := flag.String("file", "content_types.yaml", "Declaration file to load content types from")
	includeInactive := flag.Bool("include_inactive", false, "Also synchronize content types marked inactive")
	flag.Parse()

	if *dbUri == "" {
		log.Fatalf("Missing --db_uri arg")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("error reading declaration file '%v': %v", *file, err)
	}

	var decls declarationFile
	if err := yaml.Unmarshal(raw, &decls); err != nil {
		log.Fatalf("error parsing declaration file '%v': %v", *file, err)
	}

	db := openDb(*dbUri)

	err = db.AutoMigrate(
		&schema.ContentTypeDefinition{}, &schema.ContentFieldDefinition{},
		&schema.User{}, &schema.Role{}, &schema.Permission{},
		&schema.ObjectPermission{}, &schema.ApiToken{},
	)
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	typeIds := upsertTypes(db, decls.ContentTypes)
	upsertFields(db, decls.ContentTypes, typeIds)

	registry := dynamic.NewRegistry()
	synchronizer := dynamic.NewSynchronizer(db, storage.NewGormBackend(db), registry)

	synced := 0
	for _, decl := range decls.ContentTypes {
		ct, err := schema.GetContentTypeBySlug(decl.Slug, db)
		if err != nil {
			log.Fatalf("error loading content type '%v': %v", decl.Slug, err)
		}
		if !ct.IsActive && !*includeInactive {
			log.Printf("skipping inactive content type '%v'", decl.Slug)
			continue
		}

		result, err := synchronizer.Sync(&ct)
		if err != nil {
			log.Fatalf("error synchronizing content type '%v': %v", decl.Slug, err)
		}
		log.Printf("synchronized '%v': created_table=%v added_columns=%v created_join_tables=%v",
			decl.Slug, result.CreatedTable, result.AddedColumns, result.CreatedJoinTables)
		synced++
	}

	log.Printf("sync complete, %d content types synchronized", synced)
}

// upsertTypes creates missing type declarations and updates names and
// metadata of existing ones. Two passes over the file let fields reference
// any declared type regardless of order.
func upsertTypes(db *gorm.DB, decls []typeDecl) map[string]uuid.UUID {
	typeIds := map[string]uuid.UUID{}

	for _, decl := range decls {
		existing, err := schema.GetContentTypeBySlug(decl.Slug, db)
		if err == nil {
			existing.Name = decl.Name
			existing.PluralName = decl.PluralName
			existing.Description = decl.Description
			existing.Metadata = decl.Metadata
			if result := db.Omit("Fields").Save(&existing); result.Error != nil {
				log.Fatalf("error updating content type '%v': %v", decl.Slug, result.Error)
			}
			typeIds[decl.Slug] = existing.Id
			continue
		}
		if !errors.Is(err, schema.ErrContentTypeNotFound) {
			log.Fatalf("error loading content type '%v': %v", decl.Slug, err)
		}

		ct := schema.ContentTypeDefinition{
			Id:          uuid.New(),
			Name:        decl.Name,
			Slug:        decl.Slug,
			PluralName:  decl.PluralName,
			Description: decl.Description,
			Metadata:    decl.Metadata,
			IsActive:    true,
		}
		if err := ct.Validate(); err != nil {
			log.Fatalf("invalid content type '%v': %v", decl.Slug, err)
		}
		if result := db.Create(&ct); result.Error != nil {
			log.Fatalf("error creating content type '%v': %v", decl.Slug, result.Error)
		}
		typeIds[decl.Slug] = ct.Id
	}

	return typeIds
}

func upsertFields(db *gorm.DB, decls []typeDecl, typeIds map[string]uuid.UUID) {
	for _, decl := range decls {
		for i, f := range decl.Fields {
			field := schema.ContentFieldDefinition{
				Id:            uuid.New(),
				ContentTypeId: typeIds[decl.Slug],
				Name:          f.Name,
				Slug:          f.Slug,
				FieldType:     f.FieldType,
				Required:      f.Required,
				Unique:        f.Unique,
				DefaultValue:  f.DefaultValue,
				Metadata:      f.Metadata,
				RelatedName:   f.RelatedName,
				Ordering:      f.Ordering,
			}
			if field.Ordering == 0 {
				field.Ordering = i
			}

			if f.RelationTarget != "" {
				targetId, ok := typeIds[f.RelationTarget]
				if !ok {
					target, err := schema.GetContentTypeBySlug(f.RelationTarget, db)
					if err != nil {
						log.Fatalf("unknown relation target '%v' for field '%v.%v'", f.RelationTarget, decl.Slug, f.Slug)
					}
					targetId = target.Id
				}
				field.RelationTargetId = &targetId
			}

			if err := field.Validate(); err != nil {
				log.Fatalf("invalid field '%v.%v': %v", decl.Slug, f.Slug, err)
			}

			var existing schema.ContentFieldDefinition
			result := db.Where("content_type_id = ? AND slug = ?", field.ContentTypeId, field.Slug).Take(&existing)
			if result.Error == nil {
				field.Id = existing.Id
				field.CreatedAt = existing.CreatedAt
				if result := db.Save(&field); result.Error != nil {
					log.Fatalf("error updating field '%v.%v': %v", decl.Slug, f.Slug, result.Error)
				}
				continue
			}
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				log.Fatalf("error loading field '%v.%v': %v", decl.Slug, f.Slug, result.Error)
			}

			if result := db.Create(&field); result.Error != nil {
				log.Fatalf("error creating field '%v.%v': %v", decl.Slug, f.Slug, result.Error)
			}
		}
	}
}
