// Command gateway-dev runs the Service Pipeline behind a local net/http
// listener via httpshim, for development against curl or a browser without
// deploying to Lambda. It shares every piece of wiring with cmd/gateway
// except the transport at the very edge (spec §9: the pipeline itself is
// transport-agnostic).
package main

import (
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/apifoundry/gateway/cmd/gateway/httpshim"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/dao"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/logger"
	"github.com/apifoundry/gateway/core/model"
	"github.com/apifoundry/gateway/core/notify"
	"github.com/apifoundry/gateway/core/service"
)

// devConfig mirrors cmd/gateway's Config plus the local listen address.
type devConfig struct {
	Database  string `env:"DATABASE_URL,required"`
	Driver    string `env:"DATABASE_DRIVER,default=postgres"`
	Schema    string `env:"DATABASE_SCHEMA,default=public"`
	ModelPath string `env:"MODEL_PATH,required"`
	SchemaDir string `env:"SCHEMA_DIR,optional"`
	Addr      string `env:"LISTEN_ADDR,default=:8080"`
	LogLevel  string `env:"LOG_LEVEL,default=debug"`
}

func main() {
	cfg := &devConfig{}
	if err := envdecode.Decode(cfg); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.DebugLevel
	}
	logger.InitLogger(level)
	log := logger.Default()

	dial, ok := dialect.ByName(cfg.Driver)
	if !ok {
		log.Fatalf("unknown database driver %q", cfg.Driver)
	}

	db, err := csql.OpenWithSchema(cfg.Driver, cfg.Database, cfg.Schema)
	if err != nil {
		log.WithError(err).Fatal("cannot open database")
	}

	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		log.WithError(err).Fatal("cannot read model document")
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.WithError(err).Fatal("cannot parse model document")
	}
	registry := model.NewRegistry()
	if err := registry.Load(&doc); err != nil {
		log.WithError(err).Fatal("cannot load API model")
	}

	validator, err := model.NewValidatorFromDir(cfg.SchemaDir)
	if err != nil {
		log.WithError(err).Fatal("cannot load JSON schemas")
	}

	resolver := access.NewResolver(registry)
	operationDAO := dao.New(registry, resolver, dial, validator)
	pipeline := service.New(registry, operationDAO, db, notify.NopNotifier{})

	router := httpshim.NewRouter(pipeline)
	log.Infof("listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.WithError(err).Fatal("http server exited")
	}
}
