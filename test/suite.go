// Package test holds an integration-test harness for the gateway, spinning up
// real Postgres and Kafka containers and exercising the Service Pipeline
// through its local HTTP shim, the way the teacher's IntegrationTestSuite
// drives backend.Backend through a real mux.Router (test/suite.go,
// core/backend/backend_test.go). The dual Postgres+Kafka container setup is
// kept verbatim in shape; everything it wires together is this module's own
// (model.Registry, access.Resolver, dao.DAO, service.Pipeline) rather than
// the teacher's configuration-driven backend.Backend.
package test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/apifoundry/gateway/cmd/gateway/httpshim"
	"github.com/apifoundry/gateway/core/access"
	"github.com/apifoundry/gateway/core/csql"
	"github.com/apifoundry/gateway/core/dao"
	"github.com/apifoundry/gateway/core/handlers/dialect"
	"github.com/apifoundry/gateway/core/model"
	"github.com/apifoundry/gateway/core/notify"
	"github.com/apifoundry/gateway/core/service"
)

// GatewaySuite boots a Postgres container and (optionally) a Kafka container,
// loads an API model document, and serves the resulting Service Pipeline over
// a real httptest.Server through httpshim, so tests can drive it with an
// ordinary HTTP client exactly the way a deployed client would.
type GatewaySuite struct {
	suite.Suite

	Registry *model.Registry
	DB       *csql.DB
	Server   *httptest.Server

	network           testcontainers.Network
	postgresContainer testcontainers.Container
	kafkaContainer    testcontainers.Container
	kafkaConn         *kafka.Conn
	kafkaAddr         string
}

// ModelDocument is overridden by embedding suites to load the entities under
// test; the default is empty.
func (s *GatewaySuite) ModelDocument() *model.Document {
	return &model.Document{Entities: map[string]model.EntityDocument{}}
}

// Migrations returns the DDL statements to run against the fresh Postgres
// database before the suite's tests run; embedding suites override this to
// create the tables their ModelDocument's entities are bound to.
func (s *GatewaySuite) Migrations() []string {
	return nil
}

func (s *GatewaySuite) SetupSuite() {
	ctx := context.Background()

	networkName := fmt.Sprintf("gateway-test-network-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName, CheckDuplicate: true},
	})
	s.Require().NoError(err)
	s.network = network

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "gateway",
			"POSTGRES_PASSWORD": "gateway",
			"POSTGRES_DB":       "gateway",
		},
		Networks:   []string{networkName},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: pgReq, Started: true})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	host, err := pgC.Host(ctx)
	s.Require().NoError(err)
	port, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	dsn := fmt.Sprintf("host=%s port=%s user=gateway password=gateway dbname=gateway sslmode=disable", host, port.Port())
	db, err := csql.OpenWithSchema("postgres", dsn, "public")
	s.Require().NoError(err)
	s.DB = db

	for _, stmt := range s.Migrations() {
		_, err := db.Exec(stmt)
		s.Require().NoError(err)
	}

	registry := model.NewRegistry()
	s.Require().NoError(registry.Load(s.ModelDocument()))
	s.Registry = registry

	resolver := access.NewResolver(registry)
	dial, _ := dialect.ByName("postgres")
	operationDAO := dao.New(registry, resolver, dial, nil)

	var notifier notify.Notifier = notify.NopNotifier{}
	if s.kafkaAddr != "" {
		notifier = notify.NewKafkaNotifier([]string{s.kafkaAddr}, "gateway.changes.test")
	}

	pipeline := service.New(registry, operationDAO, db, notifier)
	router := httpshim.NewRouter(pipeline)
	s.Server = httptest.NewServer(router)
}

func (s *GatewaySuite) TearDownSuite() {
	if s.Server != nil {
		s.Server.Close()
	}
	ctx := context.Background()
	if s.kafkaContainer != nil {
		_ = s.kafkaContainer.Terminate(ctx)
	}
	if s.postgresContainer != nil {
		_ = s.postgresContainer.Terminate(ctx)
	}
}

// WithKafka starts a Kafka+Zookeeper pair on the suite's shared network before
// SetupSuite builds the notifier, for suites that assert on change
// notifications. Call it from an embedding suite's own SetupSuite before
// calling GatewaySuite.SetupSuite.
func (s *GatewaySuite) WithKafka() {
	ctx := context.Background()
	networkName := fmt.Sprintf("gateway-test-network-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName, CheckDuplicate: true},
	})
	s.Require().NoError(err)
	s.network = network

	zooReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-zookeeper:7.5.0",
		ExposedPorts: []string{"2181/tcp"},
		Env:          map[string]string{"ZOOKEEPER_CLIENT_PORT": "2181", "ZOOKEEPER_TICK_TIME": "2000"},
		WaitingFor:   wait.ForListeningPort("2181/tcp"),
		Networks:     []string{networkName},
	}
	_, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: zooReq, Started: true})
	s.Require().NoError(err)

	kafkaReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-kafka:7.5.0",
		ExposedPorts: []string{"9092/tcp"},
		Env: map[string]string{
			"KAFKA_BROKER_ID":                        "1",
			"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
			"KAFKA_ADVERTISED_LISTENERS":              "PLAINTEXT://localhost:9092",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
		},
		WaitingFor: wait.ForLog("started (kafka.server.KafkaServer)"),
		Networks:   []string{networkName},
	}
	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: kafkaReq, Started: true})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
}

func (s *GatewaySuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}
	return s.kafkaConn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: numPartitions, ReplicationFactor: 1})
}

// client returns an *http.Client bound to the suite's running server.
func (s *GatewaySuite) client() *http.Client {
	return s.Server.Client()
}

// url builds a request URL against the suite's running server.
func (s *GatewaySuite) url(path string) string {
	return s.Server.URL + path
}
