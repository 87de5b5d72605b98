package tests

import (
	"fmt"
	"strings"
	"testing"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/cms/hooks"
	"contro/cms/schema"
	"contro/cms/services"
	"contro/cms/storage"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	api chi.Router
	db  *gorm.DB
	bus *hooks.Bus
}

const (
	adminUsername = "admin123"
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) testEnv {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%v?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(
		&schema.ContentTypeDefinition{}, &schema.ContentFieldDefinition{},
		&schema.User{}, &schema.Role{}, &schema.Permission{},
		&schema.ObjectPermission{}, &schema.ApiToken{},
	)
	if err != nil {
		t.Fatal(err)
	}

	userAuth, err := auth.NewIdentityProvider(db, auth.ProviderArgs{
		Secret:        []byte("test jwt secret"),
		AdminUsername: adminUsername,
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
	})
	if err != nil {
		t.Fatal(err)
	}

	registry := dynamic.NewRegistry()
	synchronizer := dynamic.NewSynchronizer(db, storage.NewGormBackend(db), registry)
	bus := hooks.NewBus()
	store := dynamic.NewEntryStore(db, registry, auth.NewEvaluator(db), bus)

	cms := services.NewCms(db, userAuth, synchronizer, registry, store)

	return testEnv{api: cms.Routes(), db: db, bus: bus}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) newUser(username string) (client, error) {
	c := t.newClient()
	login, err := c.signup(username, username+"@mail.com", username+"_password")
	if err != nil {
		return client{}, err
	}

	err = c.login(login)
	if err != nil {
		return client{}, err
	}

	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(loginInfo{Email: adminEmail, Password: adminPassword})
	return c, err
}
