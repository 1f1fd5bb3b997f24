package postgresfixture

import (
	"context"
	"time"
)

// ContainerHandle identifies a running server container and the host port
// published for the in-container postgres port. The handle is dead once
// RemoveContainer returns.
type ContainerHandle struct {
	ID       string
	HostPort uint16
}

// Runtime is the container runtime collaborator. Implementations live in
// runtime/docker (raw docker SDK) and runtime/testcontainers.
type Runtime interface {
	// CreateContainer creates a stopped container from image with all
	// container ports published to host-assigned ephemeral ports.
	CreateContainer(ctx context.Context, image string, env []string) (id string, err error)

	StartContainer(ctx context.Context, id string) error

	// DiscoverHostPort reports the host port published for the container's
	// postgres port. The mapping exists only once the container is running.
	DiscoverHostPort(ctx context.Context, id string) (uint16, error)

	// StopContainer stops the container, waiting at most timeout for it to
	// exit before killing it.
	StopContainer(ctx context.Context, id string, timeout time.Duration) error

	// RemoveContainer force-removes the container and its anonymous volumes.
	RemoveContainer(ctx context.Context, id string) error
}
