package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/cms/fieldtype"
	"contro/cms/schema"
	"contro/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql"
	"gorm.io/gorm"
)

// GraphqlService exposes the dynamic entities over a single GraphQL
// endpoint. The schema is derived from the active content types and rebuilt
// whenever the definition registry changes, so both API surfaces always
// describe the same entities.
type GraphqlService struct {
	db       *gorm.DB
	userAuth *auth.IdentityProvider
	registry *dynamic.Registry
	store    *dynamic.EntryStore

	mu           sync.Mutex
	schema       *graphql.Schema
	builtVersion uint64
}

func (s *GraphqlService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Query)
	})

	return r
}

type graphqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (s *GraphqlService) Query(w http.ResponseWriter, r *http.Request) {
	var params graphqlRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	subject, err := entrySubject(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	gqlSchema, err := s.currentSchema()
	if err != nil {
		slog.Error("error building graphql schema", "error", err)
		http.Error(w, "error building schema", http.StatusInternalServerError)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         *gqlSchema,
		RequestString:  params.Query,
		OperationName:  params.OperationName,
		VariableValues: params.Variables,
		Context:        r.Context(),
		RootObject:     map[string]interface{}{"subject": subject},
	})

	utils.WriteJsonResponse(w, result)
}

// currentSchema returns the cached schema, rebuilding it when content type
// definitions changed since the last build.
func (s *GraphqlService) currentSchema() (*graphql.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.registry.Version()
	if s.schema != nil && s.builtVersion == version {
		return s.schema, nil
	}

	built, err := s.buildSchema()
	if err != nil {
		return nil, err
	}

	s.schema = built
	s.builtVersion = version
	return s.schema, nil
}

func (s *GraphqlService) buildSchema() (*graphql.Schema, error) {
	var types []schema.ContentTypeDefinition
	result := s.db.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("ordering, name")
	}).Where("is_active = ?", true).Order("slug").Find(&types)
	if result.Error != nil {
		slog.Error("sql error loading content types for graphql schema", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	queryFields := graphql.Fields{}
	mutationFields := graphql.Fields{}

	for i := range types {
		ct := &types[i]
		object, err := s.objectType(ct)
		if err != nil {
			return nil, err
		}
		input, err := s.inputType(ct)
		if err != nil {
			return nil, err
		}

		typeSlug := ct.Slug
		single := lowerCamel(ct.Slug)
		plural := lowerCamel(dynamic.Slugify(ct.Plural()))
		if plural == single {
			plural = single + "List"
		}

		queryFields[single] = &graphql.Field{
			Type: object,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				entryId, err := argUUID(p.Args, "id")
				if err != nil {
					return nil, err
				}
				return s.store.Get(subjectOf(p), typeSlug, entryId)
			},
		}

		queryFields[plural] = &graphql.Field{
			Type: graphql.NewList(object),
			Args: graphql.FieldConfigArgument{
				"status": &graphql.ArgumentConfig{Type: graphql.String},
				"limit":  &graphql.ArgumentConfig{Type: graphql.Int},
				"offset": &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				opts := dynamic.ListOptions{}
				if status, ok := p.Args["status"].(string); ok {
					opts.Status = status
				}
				if limit, ok := p.Args["limit"].(int); ok {
					opts.Limit = limit
				}
				if offset, ok := p.Args["offset"].(int); ok {
					opts.Offset = offset
				}
				return s.store.List(subjectOf(p), typeSlug, opts)
			},
		}

		name := camel(ct.Slug)
		mutationFields["create"+name] = &graphql.Field{
			Type: object,
			Args: graphql.FieldConfigArgument{
				"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(input)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				data, _ := p.Args["data"].(map[string]interface{})
				return s.store.Create(subjectOf(p), typeSlug, data)
			},
		}

		mutationFields["update"+name] = &graphql.Field{
			Type: object,
			Args: graphql.FieldConfigArgument{
				"id":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(input)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				entryId, err := argUUID(p.Args, "id")
				if err != nil {
					return nil, err
				}
				data, _ := p.Args["data"].(map[string]interface{})
				return s.store.Update(subjectOf(p), typeSlug, entryId, data)
			},
		}

		mutationFields["delete"+name] = &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				entryId, err := argUUID(p.Args, "id")
				if err != nil {
					return nil, err
				}
				if err := s.store.Delete(subjectOf(p), typeSlug, entryId); err != nil {
					return nil, err
				}
				return true, nil
			},
		}

		mutationFields["publish"+name] = s.lifecycleField(object, typeSlug, s.store.Publish)
		mutationFields["unpublish"+name] = s.lifecycleField(object, typeSlug, s.store.Unpublish)
	}

	if len(queryFields) == 0 {
		queryFields["_entityCount"] = &graphql.Field{
			Type: graphql.Int,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return 0, nil
			},
		}
	}

	config := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields}),
	}
	if len(mutationFields) > 0 {
		config.Mutation = graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutationFields})
	}

	built, err := graphql.NewSchema(config)
	if err != nil {
		return nil, err
	}
	return &built, nil
}

func (s *GraphqlService) lifecycleField(object *graphql.Object, typeSlug string, op func(dynamic.Subject, string, uuid.UUID) (map[string]interface{}, error)) *graphql.Field {
	return &graphql.Field{
		Type: object,
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			entryId, err := argUUID(p.Args, "id")
			if err != nil {
				return nil, err
			}
			return op(subjectOf(p), typeSlug, entryId)
		},
	}
}

func (s *GraphqlService) objectType(ct *schema.ContentTypeDefinition) (*graphql.Object, error) {
	fields := graphql.Fields{
		"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.ID), Resolve: mapResolver("id")},
		"status":      &graphql.Field{Type: graphql.NewNonNull(graphql.String), Resolve: mapResolver("status")},
		"createdAt":   &graphql.Field{Type: graphql.DateTime, Resolve: mapResolver("created_at")},
		"updatedAt":   &graphql.Field{Type: graphql.DateTime, Resolve: mapResolver("updated_at")},
		"publishedAt": &graphql.Field{Type: graphql.DateTime, Resolve: mapResolver("published_at")},
	}

	for i := range ct.Fields {
		field := &ct.Fields[i]
		apiType, err := fieldtype.API(field)
		if err != nil {
			return nil, err
		}
		fields[lowerCamel(field.Slug)] = &graphql.Field{
			Type:    scalarFor(apiType),
			Resolve: mapResolver(field.Slug),
		}
	}

	return graphql.NewObject(graphql.ObjectConfig{Name: camel(ct.Slug), Fields: fields}), nil
}

func (s *GraphqlService) inputType(ct *schema.ContentTypeDefinition) (*graphql.InputObject, error) {
	fields := graphql.InputObjectConfigFieldMap{}
	for i := range ct.Fields {
		field := &ct.Fields[i]
		apiType, err := fieldtype.API(field)
		if err != nil {
			return nil, err
		}
		fields[field.Slug] = &graphql.InputObjectFieldConfig{Type: scalarFor(apiType)}
	}

	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   camel(ct.Slug) + "Input",
		Fields: fields,
	}), nil
}

func scalarFor(apiType fieldtype.APIType) graphql.Output {
	var scalar graphql.Output
	switch apiType.Kind {
	case "Float":
		scalar = graphql.Float
	case "Boolean":
		scalar = graphql.Boolean
	case "DateTime":
		scalar = graphql.DateTime
	case "ID":
		scalar = graphql.ID
	default:
		scalar = graphql.String
	}
	if apiType.List {
		return graphql.NewList(scalar)
	}
	return scalar
}

// mapResolver reads one key from the row map produced by the entry store.
// Field fields are keyed by slug while graphql names are camel cased, so the
// default resolver cannot be used.
func mapResolver(key string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		row, ok := p.Source.(map[string]interface{})
		if !ok {
			return nil, nil
		}
		return row[key], nil
	}
}

func subjectOf(p graphql.ResolveParams) dynamic.Subject {
	if root, ok := p.Info.RootValue.(map[string]interface{}); ok {
		if subject, ok := root["subject"].(dynamic.Subject); ok {
			return subject
		}
	}
	return dynamic.Subject{}
}

func argUUID(args map[string]interface{}, key string) (uuid.UUID, error) {
	raw, _ := args[key].(string)
	entryId, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid id '%v'", raw)
	}
	return entryId, nil
}

func camel(slug string) string {
	parts := strings.Split(slug, "-")
	var b strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func lowerCamel(slug string) string {
	c := camel(slug)
	if c == "" {
		return c
	}
	return strings.ToLower(c[:1]) + c[1:]
}
