// Command gateway is the Lambda entrypoint for the specification-driven SQL
// query gateway: it loads the API model document, opens the database, wires
// the Service Pipeline, and hands the result to lambda.Start (spec §3, §9).
// It is grounded on the teacher's services/basic/basic.go wiring
// (envdecode.Decode -> sql.Open -> backend.MustNew -> http.ListenAndServe),
// retargeted from an ListenAndServe HTTP server onto a Lambda handler.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/goccy/go-json"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/dao"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/logger"
	"github.com/apifoundry/gateway/core/model"
	"github.com/apifoundry/gateway/core/notify"
	"github.com/apifoundry/gateway/core/service"
)

// Config holds the gateway's process-wide configuration, decoded from the
// environment the same way the teacher's Service struct is
// (services/basic/basic.go).
type Config struct {
	Database       string `env:"DATABASE_URL,required" description:"the driver data source name for the target database"`
	Driver         string `env:"DATABASE_DRIVER,default=postgres" description:"postgres, mysql or oracle"`
	Schema         string `env:"DATABASE_SCHEMA,default=public" description:"the schema the gateway's tables live in"`
	ModelPath      string `env:"MODEL_PATH,required" description:"path to the API model document (JSON)"`
	SchemaDir      string `env:"SCHEMA_DIR,optional" description:"directory of JSON Schema documents entities may reference by schema_id"`
	KafkaBrokers   string `env:"KAFKA_BROKERS,optional" description:"comma-separated Kafka broker addresses for ambient change notification"`
	KafkaTopic     string `env:"KAFKA_TOPIC,default=gateway.changes" description:"Kafka topic ambient change notifications publish to"`
	LogLevel       string `env:"LOG_LEVEL,default=info" description:"logrus level: debug, info, warn, error"`
}

func main() {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
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

	doc, err := loadModelDocument(cfg.ModelPath)
	if err != nil {
		log.WithError(err).Fatalf("cannot load model document %s", cfg.ModelPath)
	}
	registry := model.NewRegistry()
	if err := registry.Load(doc); err != nil {
		log.WithError(err).Fatal("cannot load API model")
	}

	validator, err := model.NewValidatorFromDir(cfg.SchemaDir)
	if err != nil {
		log.WithError(err).Fatal("cannot load JSON schemas")
	}

	resolver := access.NewResolver(registry)
	operationDAO := dao.New(registry, resolver, dial, validator)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.KafkaBrokers != "" {
		notifier = notify.NewKafkaNotifier(splitBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)
	}

	pipeline := service.New(registry, operationDAO, db, notifier)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return pipeline.Handle(ctx, req), nil
	})
}

func loadModelDocument(path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func splitBrokers(csv string) []string {
	var out []string
	start := 0
	for i := 0; i < len(csv); i++ {
		if csv[i] == ',' {
			out = append(out, csv[start:i])
			start = i + 1
		}
	}
	out = append(out, csv[start:])
	return out
}
