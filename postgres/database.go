package postgresfixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DatabaseTask receives params pointing at the sandbox: a freshly created
// database owned by an equally fresh login role. Anything the task connects
// with those params sees only the sandbox.
type DatabaseTask[T any] func(ctx context.Context, params Params) (T, error)

// RunWithDatabase carves an isolated database-plus-role sandbox out of the
// server admin points at, runs task against it, then drops the database and
// the role unconditionally, in that order. All DDL, cleanup included, runs
// on one administrative connection opened from admin; admin must carry
// credentials allowed to create and drop roles and databases.
//
// Error precedence is deterministic: the earliest setup error, else the
// task's error, wins; teardown failures come back joined as *CleanupError
// and become the error only when nothing else failed.
func RunWithDatabase[T any](ctx context.Context, admin Params, task DatabaseTask[T], opts ...Option) (T, error) {
	var zero T

	cfg := newConfig(opts)

	identity, err := newIdentity(cfg.random)
	if err != nil {
		return zero, fmt.Errorf("generate sandbox identity, %w", err)
	}

	// The caller is responsible for the server being reachable; no retry
	// loop here.
	conn, err := cfg.connect(ctx, admin)
	if err != nil {
		return zero, fmt.Errorf("connect with admin params, %w", errors.Join(ErrDatabase, err))
	}

	cfg.logger.Debug("provisioning sandbox",
		zap.String("database", identity.Database),
		zap.String("role", identity.Role),
	)

	result, err := runAsRole(ctx, conn, admin, identity, cfg, task)

	err = withCleanup(err, "close admin connection", conn.Close(ctx))

	if err == nil {
		cfg.logger.Debug("sandbox removed", zap.String("database", identity.Database))
	}

	return result, err
}

func runAsRole[T any](ctx context.Context, conn Conn, admin Params, identity Identity, cfg config, task DatabaseTask[T]) (T, error) {
	var zero T

	role := pgx.Identifier{identity.Role}.Sanitize()

	// CREATE ROLE must not share a batch with CREATE DATABASE: a
	// multi-statement batch runs in an implicit transaction and CREATE
	// DATABASE refuses to run inside one. The password is alphanumeric by
	// construction, safe to interpolate.
	err := conn.ExecBatch(ctx, fmt.Sprintf(
		"CREATE ROLE %s NOSUPERUSER NOCREATEDB NOCREATEROLE NOINHERIT LOGIN ENCRYPTED PASSWORD '%s';",
		role, identity.Password,
	))
	if err != nil {
		return zero, fmt.Errorf("create role %s, %w", identity.Role, errors.Join(ErrDatabase, err))
	}

	result, err := runInDatabase(ctx, conn, admin, identity, cfg, task)

	dropErr := conn.ExecBatch(ctx, "DROP ROLE "+role+";")

	return result, withCleanup(err, "drop role "+identity.Role, dropErr)
}

func runInDatabase[T any](ctx context.Context, conn Conn, admin Params, identity Identity, cfg config, task DatabaseTask[T]) (T, error) {
	var zero T

	role := pgx.Identifier{identity.Role}.Sanitize()
	database := pgx.Identifier{identity.Database}.Sanitize()

	err := conn.ExecBatch(ctx, fmt.Sprintf("CREATE DATABASE %s WITH OWNER = %s;", database, role))
	if err != nil {
		return zero, fmt.Errorf("create database %s, %w", identity.Database, errors.Join(ErrDatabase, err))
	}

	result, err := func() (T, error) {
		err := conn.ExecBatch(ctx, fmt.Sprintf("REVOKE ALL ON DATABASE %s FROM public;", database))
		if err != nil {
			return zero, fmt.Errorf("revoke public access on %s, %w", identity.Database, errors.Join(ErrDatabase, err))
		}

		sandbox := admin.
			WithCredentials(identity.Role, identity.Password).
			WithDatabase(identity.Database)

		cfg.logger.Debug("sandbox ready", zap.String("database", identity.Database))

		return task(ctx, sandbox)
	}()

	dropErr := conn.ExecBatch(ctx, "DROP DATABASE "+database+";")

	return result, withCleanup(err, "drop database "+identity.Database, dropErr)
}
