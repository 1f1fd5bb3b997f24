package tcruntime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"

	postgresfixture "github.com/norcalli/kpostgres-fixture/postgres"
)

const postgresPort nat.Port = "5432/tcp"

// New returns a Runtime backed by testcontainers-go. Containers are created
// without a wait strategy: readiness probing stays with the fixture's own
// retry-connect loop.
func New() postgresfixture.Runtime {
	return &runtime{
		containers: make(map[string]testcontainers.Container),
	}
}

// runtime adapts the fixture's id-addressed verbs to testcontainers' object
// API. The map holds only containers created through this instance and
// entries are deleted on removal; it is bookkeeping, not a registry of the
// fixture's live resources.
type runtime struct {
	mu         sync.Mutex
	containers map[string]testcontainers.Container
}

func (r *runtime) CreateContainer(ctx context.Context, image string, env []string) (string, error) {
	envMap := make(map[string]string, len(env))

	for _, kv := range env {
		key, value, _ := strings.Cut(kv, "=")
		envMap[key] = value
	}

	cnt, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			Env:          envMap,
			ExposedPorts: []string{string(postgresPort)},
		},
		Started: false,
	})
	if err != nil {
		return "", fmt.Errorf("create container, %w", err)
	}

	id := cnt.GetContainerID()

	r.mu.Lock()
	r.containers[id] = cnt
	r.mu.Unlock()

	return id, nil
}

func (r *runtime) lookup(id string) (testcontainers.Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cnt, ok := r.containers[id]
	if !ok {
		return nil, fmt.Errorf("unknown container %s", id)
	}

	return cnt, nil
}

func (r *runtime) StartContainer(ctx context.Context, id string) error {
	cnt, err := r.lookup(id)
	if err != nil {
		return err
	}

	err = cnt.Start(ctx)
	if err != nil {
		return fmt.Errorf("start container, %w", err)
	}

	return nil
}

func (r *runtime) DiscoverHostPort(ctx context.Context, id string) (uint16, error) {
	cnt, err := r.lookup(id)
	if err != nil {
		return 0, err
	}

	port, err := cnt.MappedPort(ctx, postgresPort)
	if err != nil {
		return 0, fmt.Errorf("mapped port for %s, %w", postgresPort, err)
	}

	return uint16(port.Int()), nil
}

func (r *runtime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	cnt, err := r.lookup(id)
	if err != nil {
		return err
	}

	err = cnt.Stop(ctx, &timeout)
	if err != nil {
		return fmt.Errorf("stop container, %w", err)
	}

	return nil
}

func (r *runtime) RemoveContainer(ctx context.Context, id string) error {
	cnt, err := r.lookup(id)
	if err != nil {
		return err
	}

	err = cnt.Terminate(ctx)
	if err != nil {
		return fmt.Errorf("terminate container, %w", err)
	}

	r.mu.Lock()
	delete(r.containers, id)
	r.mu.Unlock()

	return nil
}
