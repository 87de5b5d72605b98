package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
)

type client struct {
	api    chi.Router
	token  string
	userId string

	// When set, requests authenticate with the API token header instead of
	// the session JWT.
	apiToken string
}

type loginInfo struct {
	Email    string
	Password string
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

func statusError(endpoint string, res *http.Response, body string) error {
	switch res.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrInvalidInput
	}
	return fmt.Errorf("%v failed with status %d and res '%v'", endpoint, res.StatusCode, body)
}

func (c *client) setAuth(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Add("X-API-Token", c.apiToken)
		return
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %v", c.token))
}

func do[T any](c *client, method, endpoint string, body []byte) (T, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, endpoint, reader)
	c.setAuth(req)

	w := httptest.NewRecorder()
	c.api.ServeHTTP(w, req)

	var data T

	res := w.Result()
	if res.StatusCode != http.StatusOK {
		return data, statusError(endpoint, res, w.Body.String())
	}

	err := json.NewDecoder(res.Body).Decode(&data)
	if err != nil {
		return data, err
	}
	return data, nil
}

func get[T any](c *client, endpoint string) (T, error) {
	return do[T](c, "GET", endpoint, nil)
}

func post[T any](c *client, endpoint string, body []byte) (T, error) {
	return do[T](c, "POST", endpoint, body)
}

func deleteReq(c *client, endpoint string) error {
	_, err := do[map[string]interface{}](c, "DELETE", endpoint, nil)
	return err
}

type NoBody struct{}

func marshal(t interface{}) []byte {
	body, err := json.Marshal(t)
	if err != nil {
		panic(fmt.Sprintf("json encode error: %v", err))
	}
	return body
}

func (c *client) signup(username, email, password string) (loginInfo, error) {
	_, err := post[map[string]string](c, "/iam/signup", marshal(map[string]string{
		"username": username, "email": email, "password": password,
	}))
	if err != nil {
		return loginInfo{}, err
	}
	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	req := httptest.NewRequest("GET", "/iam/login", nil)
	req.SetBasicAuth(login.Email, login.Password)

	w := httptest.NewRecorder()
	c.api.ServeHTTP(w, req)

	res := w.Result()
	if res.StatusCode != http.StatusOK {
		return statusError("/iam/login", res, w.Body.String())
	}

	var data map[string]string
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return err
	}

	c.token = data["access_token"]
	c.userId = data["user_id"]
	return nil
}

type userInfo struct {
	UserId      string   `json:"user_id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	IsSuperuser bool     `json:"is_superuser"`
	IsActive    bool     `json:"is_active"`
	Roles       []string `json:"roles"`
}

func (c *client) userInfo() (userInfo, error) {
	return get[userInfo](c, "/iam/user/info")
}

func (c *client) listUsers() ([]userInfo, error) {
	return get[[]userInfo](c, "/iam/user/list")
}

func (c *client) deleteUser(userId string) error {
	return deleteReq(c, fmt.Sprintf("/iam/user/%v", userId))
}

func (c *client) promoteSuperuser(userId string) error {
	_, err := post[NoBody](c, fmt.Sprintf("/iam/user/%v/superuser", userId), nil)
	return err
}

func (c *client) demoteSuperuser(userId string) error {
	return deleteReq(c, fmt.Sprintf("/iam/user/%v/superuser", userId))
}

func (c *client) createRole(name string) (string, error) {
	data, err := post[map[string]string](c, "/iam/role/create", marshal(map[string]string{"name": name}))
	if err != nil {
		return "", err
	}
	return data["role_id"], nil
}

func (c *client) deleteRole(roleId string) error {
	return deleteReq(c, fmt.Sprintf("/iam/role/%v", roleId))
}

func (c *client) assignRole(roleId, userId string) error {
	_, err := post[NoBody](c, fmt.Sprintf("/iam/role/%v/users/%v", roleId, userId), nil)
	return err
}

func (c *client) grantToRole(roleId string, codenames ...string) error {
	_, err := post[NoBody](c, fmt.Sprintf("/iam/role/%v/permissions", roleId), marshal(map[string][]string{"codenames": codenames}))
	return err
}

func (c *client) grantToUser(userId string, codenames ...string) error {
	_, err := post[NoBody](c, fmt.Sprintf("/iam/user/%v/permissions", userId), marshal(map[string][]string{"codenames": codenames}))
	return err
}

func (c *client) createObjectPermission(codename, userId, entityType, objectId string) (string, error) {
	data, err := post[map[string]string](c, "/iam/object-permission/create", marshal(map[string]string{
		"codename": codename, "user_id": userId, "entity_type": entityType, "object_id": objectId,
	}))
	if err != nil {
		return "", err
	}
	return data["grant_id"], nil
}

type fieldSpec struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	FieldType string `json:"field_type"`
	Required  bool   `json:"required"`
	Unique    bool   `json:"unique"`

	DefaultValue *string                `json:"default_value,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	RelationTargetId string `json:"relation_target_id,omitempty"`
}

type typeSpec struct {
	Name       string      `json:"name"`
	Slug       string      `json:"slug"`
	PluralName string      `json:"plural_name,omitempty"`
	Fields     []fieldSpec `json:"fields"`
}

type syncResult struct {
	CreatedTable      bool     `json:"created_table"`
	AddedColumns      []string `json:"added_columns"`
	CreatedJoinTables []string `json:"created_join_tables"`
}

type createTypeResponse struct {
	TypeId     string     `json:"type_id"`
	SyncResult syncResult `json:"sync_result"`
}

func (c *client) createContentType(spec typeSpec) (createTypeResponse, error) {
	return post[createTypeResponse](c, "/content-types/create", marshal(spec))
}

type fieldInfo struct {
	FieldId   string `json:"field_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	FieldType string `json:"field_type"`
	Required  bool   `json:"required"`
}

type typeInfo struct {
	TypeId   string      `json:"type_id"`
	Name     string      `json:"name"`
	Slug     string      `json:"slug"`
	IsActive bool        `json:"is_active"`
	Table    string      `json:"table"`
	Fields   []fieldInfo `json:"fields"`
}

func (c *client) listContentTypes() ([]typeInfo, error) {
	return get[[]typeInfo](c, "/content-types/list")
}

func (c *client) contentTypeInfo(typeId string) (typeInfo, error) {
	return get[typeInfo](c, fmt.Sprintf("/content-types/%v", typeId))
}

func (c *client) updateContentType(typeId string, update map[string]interface{}) error {
	_, err := post[map[string]interface{}](c, fmt.Sprintf("/content-types/%v", typeId), marshal(update))
	return err
}

func (c *client) deactivateContentType(typeId string) error {
	return deleteReq(c, fmt.Sprintf("/content-types/%v", typeId))
}

func (c *client) addField(typeId string, field fieldSpec) (string, error) {
	data, err := post[map[string]string](c, fmt.Sprintf("/content-types/%v/fields", typeId), marshal(field))
	if err != nil {
		return "", err
	}
	return data["field_id"], nil
}

func (c *client) updateField(typeId, fieldId string, update map[string]interface{}) error {
	_, err := post[map[string]interface{}](c, fmt.Sprintf("/content-types/%v/fields/%v", typeId, fieldId), marshal(update))
	return err
}

func (c *client) deleteField(typeId, fieldId string) error {
	return deleteReq(c, fmt.Sprintf("/content-types/%v/fields/%v", typeId, fieldId))
}

func (c *client) syncContentType(typeId string) (syncResult, error) {
	return post[syncResult](c, fmt.Sprintf("/content-types/%v/sync", typeId), nil)
}

type entry = map[string]interface{}

func (c *client) createEntry(typeSlug string, data entry) (entry, error) {
	return post[entry](c, fmt.Sprintf("/content/%v/entries", typeSlug), marshal(data))
}

func (c *client) getEntry(typeSlug, entryId string) (entry, error) {
	return get[entry](c, fmt.Sprintf("/content/%v/entries/%v", typeSlug, entryId))
}

func (c *client) listEntries(typeSlug, query string) ([]entry, error) {
	return get[[]entry](c, fmt.Sprintf("/content/%v/entries%v", typeSlug, query))
}

func (c *client) updateEntry(typeSlug, entryId string, data entry) (entry, error) {
	return post[entry](c, fmt.Sprintf("/content/%v/entries/%v", typeSlug, entryId), marshal(data))
}

func (c *client) deleteEntry(typeSlug, entryId string) error {
	return deleteReq(c, fmt.Sprintf("/content/%v/entries/%v", typeSlug, entryId))
}

func (c *client) publishEntry(typeSlug, entryId string) (entry, error) {
	return post[entry](c, fmt.Sprintf("/content/%v/entries/%v/publish", typeSlug, entryId), nil)
}

func (c *client) unpublishEntry(typeSlug, entryId string) (entry, error) {
	return post[entry](c, fmt.Sprintf("/content/%v/entries/%v/unpublish", typeSlug, entryId), nil)
}

type tokenInfo struct {
	TokenId     string   `json:"token_id"`
	Name        string   `json:"name"`
	MaskedToken string   `json:"masked_token"`
	Codenames   []string `json:"codenames"`
	IsActive    bool     `json:"is_active"`
}

func (c *client) createApiToken(name string, codenames ...string) (string, string, error) {
	data, err := post[map[string]string](c, "/api-token/create", marshal(map[string]interface{}{
		"name": name, "codenames": codenames,
	}))
	if err != nil {
		return "", "", err
	}
	return data["token_id"], data["token"], nil
}

func (c *client) listApiTokens(query string) ([]tokenInfo, error) {
	return get[[]tokenInfo](c, "/api-token/list"+query)
}

func (c *client) revokeApiToken(tokenId string) error {
	return deleteReq(c, fmt.Sprintf("/api-token/%v", tokenId))
}

type graphqlResponse struct {
	Data   map[string]interface{}   `json:"data"`
	Errors []map[string]interface{} `json:"errors"`
}

func (c *client) graphql(query string, variables map[string]interface{}) (graphqlResponse, error) {
	return post[graphqlResponse](c, "/graphql/", marshal(map[string]interface{}{
		"query": query, "variables": variables,
	}))
}
