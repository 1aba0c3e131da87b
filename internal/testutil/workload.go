// Package testutil starts disposable containers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const workloadPort = nat.Port("80/tcp")

// Workload is a running nginx container with its HTTP port published
type Workload struct {
	Container testcontainers.Container
	ID        string
	Name      string
	Endpoint  string
}

// StartWorkload starts a throwaway nginx container and removes it when the
// test ends. The test is skipped when no container runtime is available.
func StartWorkload(t *testing.T) *Workload {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nginx:alpine",
			Name:         fmt.Sprintf("dockwatch-it-%d", time.Now().UnixNano()),
			ExposedPorts: []string{string(workloadPort)},
			WaitingFor: wait.ForHTTP("/").
				WithPort(workloadPort).
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err, "failed to start workload container")

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, workloadPort)
	require.NoError(t, err)
	name, err := c.Name(ctx)
	require.NoError(t, err)

	return &Workload{
		Container: c,
		ID:        c.GetContainerID(),
		Name:      strings.TrimPrefix(name, "/"),
		Endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
	}
}
