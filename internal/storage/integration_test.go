package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer runs req for the test's lifetime. The test is skipped when
// no container runtime is reachable.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	if testing.Short() {
		t.Skipf("%s needs a container runtime", req.Image)
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("%s unavailable: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	return c
}

func initialized(t *testing.T, b Backend) Backend {
	t.Helper()
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPostgresContract(t *testing.T) {
	c := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "pool",
			"POSTGRES_USER":     "pool",
			"POSTGRES_PASSWORD": "pool",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	})
	addr, err := c.PortEndpoint(context.Background(), "5432/tcp", "")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://pool:pool@%s/pool?sslmode=disable", addr)

	runBackendContract(t, initialized(t, NewPostgresBackend(dsn)))
	// a second Initialize finds the schema current
	initialized(t, NewPostgresBackend(dsn))
}

func TestMongoContract(t *testing.T) {
	c := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(time.Minute),
	})
	addr, err := c.PortEndpoint(context.Background(), "27017/tcp", "")
	require.NoError(t, err)
	runBackendContract(t, initialized(t, NewMongoDBBackend("mongodb://"+addr, "pool")))
}
