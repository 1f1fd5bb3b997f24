// Package pgrunner turns the scoped provisioning API into the
// open-use-cleanup shape tests want: it hands back a live *sql.DB on a fresh
// sandbox plus a term func that releases everything.
package pgrunner

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	kpostgres "github.com/norcalli/kpostgres-fixture"
	postgresfixture "github.com/norcalli/kpostgres-fixture/postgres"
	"github.com/norcalli/kpostgres-fixture/postgres/migrations"
	dockerruntime "github.com/norcalli/kpostgres-fixture/postgres/runtime/docker"

	//nolint:revive //database/sql driver for the sandbox pool
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config tunes the runner. The zero value and nil both mean defaults.
type Config struct {
	PostgresImage string
	DriverName    string
	Logger        *zap.Logger
	Options       []postgresfixture.Option
}

const defaultDriverName = "pgx"

func (cfg *Config) driverName() string {
	if cfg != nil && cfg.DriverName != "" {
		return cfg.DriverName
	}

	return defaultDriverName
}

func (cfg *Config) logger() *zap.Logger {
	if cfg != nil && cfg.Logger != nil {
		return cfg.Logger
	}

	return zap.NewNop()
}

func (cfg *Config) fixtureOptions() []postgresfixture.Option {
	if cfg == nil {
		return nil
	}

	opts := cfg.Options

	if cfg.PostgresImage != "" {
		opts = append([]postgresfixture.Option{postgresfixture.WithImage(cfg.PostgresImage)}, opts...)
	}

	if cfg.Logger != nil {
		opts = append([]postgresfixture.Option{postgresfixture.WithLogger(cfg.Logger)}, opts...)
	}

	return opts
}

// RunForTesting provisions a throwaway server container with a sandbox
// database inside it, applies migrations and initial queries, and returns a
// pool on the sandbox. Teardown is registered with t.Cleanup.
func RunForTesting(
	t *testing.T,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) *sql.DB {
	return RunForTestingConfig(t, nil, migrations, initialQueries...)
}

func RunForTestingConfig(
	t *testing.T,
	cfg *Config,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) *sql.DB {
	kpostgres.SkipDisabled(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, term, err := RunConfig(ctx, cfg, migrations, initialQueries...)
	t.Cleanup(term)

	if err != nil {
		t.Fatalf("start ephemeral postgres, err: %s", err)
	}

	return db
}

// Run provisions server plus sandbox with default config. term releases the
// sandbox and the container; it blocks until teardown finished.
func Run(
	ctx context.Context,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) (db *sql.DB, term func(), err error) {
	return RunConfig(ctx, nil, migrations, initialQueries...)
}

func RunConfig(
	ctx context.Context,
	cfg *Config,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) (db *sql.DB, term func(), err error) {
	rt, err := dockerruntime.New()
	if err != nil {
		return nil, func() {}, err
	}

	opts := cfg.fixtureOptions()

	provision := func(ctx context.Context, task postgresfixture.DatabaseTask[struct{}]) error {
		_, err := postgresfixture.RunWithServer(ctx, rt,
			func(ctx context.Context, params postgresfixture.Params, _ postgresfixture.Conn) (struct{}, error) {
				return postgresfixture.RunWithDatabase(ctx, params, task, opts...)
			},
			opts...,
		)

		return err
	}

	return runSandboxSession(ctx, cfg, provision, migrations, initialQueries...)
}

// runSandboxSession drives a scoped provisioning function from a goroutine
// so the sandbox outlives this call: the inner task publishes the opened
// pool and then blocks until term releases it, which lets the provisioning
// function run its ordered teardown.
func runSandboxSession(
	ctx context.Context,
	cfg *Config,
	provision func(ctx context.Context, task postgresfixture.DatabaseTask[struct{}]) error,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) (db *sql.DB, term func(), err error) {
	type opened struct {
		db  *sql.DB
		err error
	}

	readyCh := make(chan opened, 1)
	release := make(chan struct{})
	done := make(chan struct{})

	logger := cfg.logger()

	var runErr error

	go func() {
		defer close(done)

		runErr = provision(ctx, func(ctx context.Context, sandbox postgresfixture.Params) (struct{}, error) {
			db, err := openSandbox(ctx, cfg.driverName(), sandbox, migrations, initialQueries...)
			if err != nil {
				readyCh <- opened{err: err}

				return struct{}{}, err
			}

			readyCh <- opened{db: db}

			select {
			case <-release:
			case <-ctx.Done():
			}

			// The sandbox pool must close before cleanup runs: DROP DATABASE
			// fails while sessions are still attached.
			closeErr := db.Close()
			if closeErr != nil {
				logger.Warn("close sandbox pool", zap.Error(closeErr))
			}

			return struct{}{}, nil
		})
	}()

	var once sync.Once

	term = func() {
		once.Do(func() {
			close(release)
			<-done

			if runErr != nil {
				logger.Warn("teardown ephemeral postgres", zap.Error(runErr))
			}
		})
	}

	select {
	case res := <-readyCh:
		if res.err != nil {
			// Provisioning already started tearing down; wait it out.
			<-done

			return nil, func() {}, runErr
		}

		return res.db, term, nil
	case <-done:
		return nil, func() {}, runErr
	}
}

func openSandbox(
	ctx context.Context,
	driverName string,
	sandbox postgresfixture.Params,
	m migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) (*sql.DB, error) {
	db, err := sql.Open(driverName, sandbox.ConnString())
	if err != nil {
		return nil, fmt.Errorf("open connection, %w", err)
	}

	if m != nil {
		err = m.Up(ctx, db)
		if err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("up migrations, %w", err)
		}
	}

	for _, initialQuery := range initialQueries {
		execErr := postgresfixture.ExecQuery(ctx, db, initialQuery)
		if execErr != nil {
			_ = db.Close()

			return nil, execErr
		}
	}

	return db, nil
}
