package postgresfixture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ServerTask receives params for the throwaway server and a connection that
// is already accepting queries. The connection is owned by RunWithServer and
// closed before the container is torn down.
type ServerTask[T any] func(ctx context.Context, params Params, conn Conn) (T, error)

// RunWithServer starts a disposable postgres server in a fresh container,
// waits for it to accept connections, runs task, then stops and removes the
// container unconditionally. The task's error takes precedence over teardown
// failures; teardown failures come back joined as *CleanupError. The task's
// result is valid whenever the task ran and returned nil.
func RunWithServer[T any](ctx context.Context, rt Runtime, task ServerTask[T], opts ...Option) (T, error) {
	var zero T

	cfg := newConfig(opts)

	env := []string{
		"POSTGRES_USER=" + cfg.serverParams.User,
		"POSTGRES_PASSWORD=" + cfg.serverParams.Password,
		"POSTGRES_DB=" + cfg.serverParams.Database,
	}

	id, err := rt.CreateContainer(ctx, cfg.image, env)
	if err != nil {
		return zero, fmt.Errorf("create container from image %s, %w", cfg.image, errors.Join(ErrContainerCreate, err))
	}

	cfg.logger.Debug("container created",
		zap.String("container_id", id),
		zap.String("image", cfg.image),
	)

	err = rt.StartContainer(ctx, id)
	if err != nil {
		startErr := fmt.Errorf("start container, %w", errors.Join(ErrContainerStart, err))

		// The created container still has to go away; its removal failing
		// must not hide the start error.
		return zero, withCleanup(startErr, "remove container", rt.RemoveContainer(ctx, id))
	}

	result, err := runOnServer(ctx, rt, id, cfg, task)

	// Stop always precedes remove, and remove is attempted even when stop
	// failed: removal is forced.
	stopErr := rt.StopContainer(ctx, id, cfg.stopTimeout)
	if stopErr != nil {
		cfg.logger.Warn("stop container", zap.String("container_id", id), zap.Error(stopErr))
	}

	err = withCleanup(err, "stop container", stopErr)

	removeErr := rt.RemoveContainer(ctx, id)
	if removeErr != nil {
		cfg.logger.Warn("remove container", zap.String("container_id", id), zap.Error(removeErr))
	}

	err = withCleanup(err, "remove container", removeErr)

	return result, err
}

func runOnServer[T any](ctx context.Context, rt Runtime, id string, cfg config, task ServerTask[T]) (T, error) {
	var zero T

	hostPort, err := rt.DiscoverHostPort(ctx, id)
	if err != nil {
		return zero, fmt.Errorf("discover published postgres port, %w", errors.Join(ErrPortDiscovery, err))
	}

	handle := ContainerHandle{ID: id, HostPort: hostPort}
	params := cfg.serverParams.WithPort(handle.HostPort)

	cfg.logger.Debug("waiting for postgres",
		zap.String("container_id", handle.ID),
		zap.Uint16("host_port", handle.HostPort),
	)

	conn, err := connectRetry(ctx, cfg.connect, params, cfg.connectAttempts, cfg.connectInterval, cfg.logger)
	if err != nil {
		return zero, err
	}

	result, err := task(ctx, params, conn)

	return result, withCleanup(err, "close server connection", conn.Close(ctx))
}
