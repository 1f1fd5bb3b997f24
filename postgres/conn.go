package postgresfixture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Conn is the slice of a postgres session the fixture needs. Statements
// passed to ExecBatch in one call travel as a single simple-protocol query,
// which the server wraps in an implicit transaction; DDL that refuses to run
// inside a transaction (CREATE DATABASE, DROP DATABASE) must therefore
// arrive in its own ExecBatch call.
type Conn interface {
	ExecBatch(ctx context.Context, sql string) error
	Close(ctx context.Context) error
}

// Connector opens a Conn for the given params. The default connector dials
// with pgx; tests substitute recording doubles.
type Connector func(ctx context.Context, params Params) (Conn, error)

func pgxConnector(ctx context.Context, params Params) (Conn, error) {
	conn, err := pgx.Connect(ctx, params.ConnString())
	if err != nil {
		return nil, err
	}

	return pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgx.Conn
}

func (c pgxConn) ExecBatch(ctx context.Context, sql string) error {
	_, err := c.conn.Exec(ctx, sql)

	return err
}

func (c pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// connectRetry dials until the server accepts a connection, sleeping
// interval between attempts. A container reports started before postgres
// finishes initializing, so the first attempts routinely fail. Exhausting
// the attempt budget yields ErrConnectTimeout joined with the last dial
// error.
func connectRetry(
	ctx context.Context,
	connect Connector,
	params Params,
	attempts int,
	interval time.Duration,
	logger *zap.Logger,
) (Conn, error) {
	var lastErr error

	for n := 0; n < attempts; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("wait for postgres, %w", context.Cause(ctx))
			case <-time.After(interval):
			}
		}

		conn, err := connect(ctx, params)
		if err == nil {
			return conn, nil
		}

		lastErr = err

		logger.Debug("postgres not ready",
			zap.Int("attempt", n+1),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("connect after %d attempts, %w", attempts, errors.Join(ErrConnectTimeout, lastErr))
}
