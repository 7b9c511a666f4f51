package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"worknode/internal/config"
)

// MigrationPath is the file URL of the repository's migrations.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))
}

// NSQD is a running nsqd container.
type NSQD struct {
	TCPAddr  string
	HTTPAddr string
}

// StartNSQD runs nsqd for the duration of the test.
func StartNSQD(t *testing.T) NSQD {
	t.Helper()
	ctx := context.Background()

	nsqReq := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: nsqReq,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = nsqC.Terminate(context.Background()) })

	host, err := nsqC.Host(ctx)
	require.NoError(t, err)
	tcpPort, err := nsqC.MappedPort(ctx, "4150")
	require.NoError(t, err)
	httpPort, err := nsqC.MappedPort(ctx, "4151")
	require.NoError(t, err)

	return NSQD{
		TCPAddr:  fmt.Sprintf("%s:%s", host, tcpPort.Port()),
		HTTPAddr: fmt.Sprintf("%s:%s", host, httpPort.Port()),
	}
}

type IntegrationSuite struct {
	T    *testing.T
	DB   *sql.DB
	NSQD NSQD

	pgContainer *postgres.PostgresContainer
	pgHost      string
	pgPort      int
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("worknode_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.pgHost = host
	s.pgPort, err = strconv.Atoi(port.Port())
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. NSQ
	s.NSQD = StartNSQD(s.T)
}

// GetAppConfig points a node configuration at the suite's containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		ComponentID:                "worknode-test",
		InstanceID:                 "test-instance",
		DBHost:                     s.pgHost,
		DBPort:                     s.pgPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "worknode_test",
		MigrationPath:              MigrationPath(),
		Transport:                  config.TransportNSQ,
		NSQDHost:                   s.NSQD.TCPAddr,
		NSQDHTTP:                   s.NSQD.HTTPAddr,
		TransformTool:              config.ToolImaging,
		Reaction:                   config.ReactionStop,
		ReactionGraceSeconds:       5,
		HeartbeatIntervalSeconds:   1,
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
		ServerPort:                 0,
	}
}

func (s *IntegrationSuite) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (s *IntegrationSuite) Teardown() {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(context.Background())
	}
}
