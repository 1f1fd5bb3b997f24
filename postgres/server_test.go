package postgresfixture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	postgresfixture "github.com/norcalli/kpostgres-fixture/postgres"
)

type fakeRuntime struct {
	mu    sync.Mutex
	calls []string

	createErr   error
	startErr    error
	discoverErr error
	stopErr     error
	removeErr   error

	hostPort uint16
}

func (f *fakeRuntime) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeRuntime) CreateContainer(_ context.Context, _ string, _ []string) (string, error) {
	f.record("create")

	if f.createErr != nil {
		return "", f.createErr
	}

	return "cnt-1", nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, _ string) error {
	f.record("start")

	return f.startErr
}

func (f *fakeRuntime) DiscoverHostPort(_ context.Context, _ string) (uint16, error) {
	f.record("discover")

	if f.discoverErr != nil {
		return 0, f.discoverErr
	}

	if f.hostPort == 0 {
		return 49153, nil
	}

	return f.hostPort, nil
}

func (f *fakeRuntime) StopContainer(_ context.Context, _ string, _ time.Duration) error {
	f.record("stop")

	return f.stopErr
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, _ string) error {
	f.record("remove")

	return f.removeErr
}

type fakeConn struct {
	closed bool
}

func (c *fakeConn) ExecBatch(context.Context, string) error {
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true

	return nil
}

func fakeConnector(conn postgresfixture.Conn) postgresfixture.Connector {
	return func(context.Context, postgresfixture.Params) (postgresfixture.Conn, error) {
		return conn, nil
	}
}

func Test_RunWithServer_Success(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{hostPort: 40001}
	conn := &fakeConn{}

	var taskParams postgresfixture.Params

	result, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(_ context.Context, params postgresfixture.Params, _ postgresfixture.Conn) (int, error) {
			taskParams = params

			return 42, nil
		},
		postgresfixture.WithConnector(fakeConnector(conn)),
		postgresfixture.WithLogger(zaptest.NewLogger(t)),
	)

	require.NoError(t, err)
	require.Equal(t, 42, result)

	require.Equal(t, []string{"create", "start", "discover", "stop", "remove"}, rt.Calls())
	require.True(t, conn.closed)

	require.Equal(t, uint16(40001), taskParams.Port)
	require.Equal(t, "postgres", taskParams.User)
}

func Test_RunWithServer_CreateFails(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{createErr: errors.New("no such image")}

	_, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			t.Fatal("task must not run")

			return 0, nil
		},
	)

	require.ErrorIs(t, err, postgresfixture.ErrContainerCreate)
	require.ErrorContains(t, err, "no such image")

	// Nothing was acquired, nothing to clean up.
	require.Equal(t, []string{"create"}, rt.Calls())
}

func Test_RunWithServer_StartFails_RemovesCreatedContainer(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{startErr: errors.New("cgroup error")}

	_, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			t.Fatal("task must not run")

			return 0, nil
		},
	)

	require.ErrorIs(t, err, postgresfixture.ErrContainerStart)
	require.Equal(t, []string{"create", "start", "remove"}, rt.Calls())
}

func Test_RunWithServer_StartFails_RemoveFailureDoesNotHideStartError(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{
		startErr:  errors.New("cgroup error"),
		removeErr: errors.New("daemon gone"),
	}

	_, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			return 0, nil
		},
	)

	require.ErrorIs(t, err, postgresfixture.ErrContainerStart)

	var cleanupErr *postgresfixture.CleanupError

	require.ErrorAs(t, err, &cleanupErr)
	require.ErrorContains(t, cleanupErr, "daemon gone")
}

func Test_RunWithServer_PortDiscoveryFails_StopsAndRemoves(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{discoverErr: errors.New("no port mapping")}

	_, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			t.Fatal("task must not run")

			return 0, nil
		},
	)

	require.ErrorIs(t, err, postgresfixture.ErrPortDiscovery)
	require.Equal(t, []string{"create", "start", "discover", "stop", "remove"}, rt.Calls())
}

func Test_RunWithServer_ConnectTimeout(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{}

	dials := 0

	connect := postgresfixture.Connector(func(context.Context, postgresfixture.Params) (postgresfixture.Conn, error) {
		dials++

		return nil, errors.New("connection refused")
	})

	_, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			t.Fatal("task must not run")

			return 0, nil
		},
		postgresfixture.WithConnector(connect),
		postgresfixture.WithConnectAttempts(3),
		postgresfixture.WithConnectInterval(time.Millisecond),
	)

	require.ErrorIs(t, err, postgresfixture.ErrConnectTimeout)
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 3, dials)

	require.Equal(t, []string{"create", "start", "discover", "stop", "remove"}, rt.Calls())
}

func Test_RunWithServer_TaskErrorWinsOverCleanup(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{}
	taskErr := errors.New("assertion blew up")

	_, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			return 0, taskErr
		},
		postgresfixture.WithConnector(fakeConnector(&fakeConn{})),
	)

	require.ErrorIs(t, err, taskErr)

	// Cleanup succeeded, so no cleanup error may be attached.
	var cleanupErr *postgresfixture.CleanupError

	require.False(t, errors.As(err, &cleanupErr))
	require.Equal(t, []string{"create", "start", "discover", "stop", "remove"}, rt.Calls())
}

func Test_RunWithServer_StopFailureStillRemoves(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{stopErr: errors.New("stop timeout")}

	result, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (string, error) {
			return "done", nil
		},
		postgresfixture.WithConnector(fakeConnector(&fakeConn{})),
	)

	// The task result survives a teardown failure.
	require.Equal(t, "done", result)

	var cleanupErr *postgresfixture.CleanupError

	require.ErrorAs(t, err, &cleanupErr)
	require.Equal(t, []string{"create", "start", "discover", "stop", "remove"}, rt.Calls())
}

func Test_RunWithServer_CleanupOnlyFailure(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{removeErr: errors.New("device busy")}

	result, err := postgresfixture.RunWithServer(context.Background(), rt,
		func(context.Context, postgresfixture.Params, postgresfixture.Conn) (int, error) {
			return 7, nil
		},
		postgresfixture.WithConnector(fakeConnector(&fakeConn{})),
	)

	require.Equal(t, 7, result)

	var cleanupErr *postgresfixture.CleanupError

	require.ErrorAs(t, err, &cleanupErr)
	require.Equal(t, "remove container", cleanupErr.Op)
}
