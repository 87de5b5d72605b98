package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/cms/hooks"
	"contro/cms/schema"
	"contro/cms/services"
	"contro/cms/storage"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type controEnv struct {
	DatabaseUri string `env:"DATABASE_URI,required"`
	JwtSecret   string `env:"JWT_SECRET,required"`

	AdminUsername string `env:"ADMIN_USERNAME,required"`
	AdminEmail    string `env:"ADMIN_EMAIL,required"`
	AdminPassword string `env:"ADMIN_PASSWORD,required"`

	LogDir         string   `env:"LOG_DIR" envDefault:"logs"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*"`
}

func loadEnvFile(envFile string) {
	slog.Info(fmt.Sprintf("loading env from file %v", envFile))
	err := godotenv.Load(envFile)
	if err != nil {
		log.Fatalf("error loading .env file '%v': %v", envFile, err)
	}
}

func initLogging(logFile *os.File) {
	log.SetFlags(log.Lshortfile | log.Ltime | log.Ldate)
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
	slog.Info("logging initialized", "log_file", logFile.Name())
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

func openDb(uri string) gorm.Dialector {
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		return postgres.Open(postgresDsn(uri))
	}
	return sqlite.Open(strings.TrimPrefix(uri, "sqlite://"))
}

func initDb(uri string) *gorm.DB {
	db, err := gorm.Open(openDb(uri), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	err = db.AutoMigrate(
		&schema.ContentTypeDefinition{}, &schema.ContentFieldDefinition{},
		&schema.User{}, &schema.Role{}, &schema.Permission{},
		&schema.ObjectPermission{}, &schema.ApiToken{},
	)
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")
	flag.Parse()

	if *envFile != "" {
		loadEnvFile(*envFile)
	}

	var cfg controEnv
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing env: %v", err)
	}

	if err := os.MkdirAll(cfg.LogDir, 0777); err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "contro.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	initLogging(logFile)

	db := initDb(cfg.DatabaseUri)

	userAuth, err := auth.NewIdentityProvider(db, auth.ProviderArgs{
		Secret:        []byte(cfg.JwtSecret),
		AdminUsername: cfg.AdminUsername,
		AdminEmail:    cfg.AdminEmail,
		AdminPassword: cfg.AdminPassword,
	})
	if err != nil {
		log.Fatalf("error creating identity provider: %v", err)
	}

	registry := dynamic.NewRegistry()
	synchronizer := dynamic.NewSynchronizer(db, storage.NewGormBackend(db), registry)
	evaluator := auth.NewEvaluator(db)

	bus := hooks.NewBus()
	if err := bus.Subscribe(hooks.PostPublish, "*", func(event string, payload hooks.Payload) {
		slog.Info("entry published", "type", payload.TypeSlug, "entry_id", payload.EntityId)
	}); err != nil {
		log.Fatalf("error subscribing publish hook: %v", err)
	}

	store := dynamic.NewEntryStore(db, registry, evaluator, bus)

	cms := services.NewCms(db, userAuth, synchronizer, registry, store)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", cms.Routes())
	r.Handle("/metrics", promhttp.Handler())

	slog.Info("starting server", "port", *port)
	err = http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
}
