package dockerruntime

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	postgresfixture "github.com/norcalli/kpostgres-fixture/postgres"
)

// postgresPort is the port postgres listens on inside the container.
const postgresPort nat.Port = "5432/tcp"

// New returns a Runtime talking to the docker daemon configured by the
// standard DOCKER_* environment variables.
func New() (postgresfixture.Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon, %w", err)
	}

	return NewWithClient(cli), nil
}

// NewWithClient wraps an existing docker client.
func NewWithClient(cli *client.Client) postgresfixture.Runtime {
	return &runtime{cli: cli}
}

type runtime struct {
	cli *client.Client
}

func (r *runtime) CreateContainer(ctx context.Context, image string, env []string) (string, error) {
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        image,
			Env:          env,
			ExposedPorts: nat.PortSet{postgresPort: struct{}{}},
		},
		&container.HostConfig{
			PublishAllPorts: true,
		},
		nil, nil, "",
	)
	if err != nil {
		return "", fmt.Errorf("create container, %w", err)
	}

	return resp.ID, nil
}

func (r *runtime) StartContainer(ctx context.Context, id string) error {
	err := r.cli.ContainerStart(ctx, id, container.StartOptions{})
	if err != nil {
		return fmt.Errorf("start container, %w", err)
	}

	return nil
}

func (r *runtime) DiscoverHostPort(ctx context.Context, id string) (uint16, error) {
	cnts, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("id", id),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers, %w", err)
	}

	if len(cnts) == 0 {
		return 0, fmt.Errorf("container %s not found among running containers", id)
	}

	for _, port := range cnts[0].Ports {
		if port.PrivatePort == uint16(postgresPort.Int()) && port.PublicPort != 0 {
			return port.PublicPort, nil
		}
	}

	return 0, fmt.Errorf("no published mapping for %s on container %s", postgresPort, id)
}

func (r *runtime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)

	err := r.cli.ContainerStop(ctx, id, container.StopOptions{
		Timeout: &seconds,
	})
	if err != nil {
		return fmt.Errorf("stop container, %w", err)
	}

	return nil
}

func (r *runtime) RemoveContainer(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("remove container, %w", err)
	}

	return nil
}
