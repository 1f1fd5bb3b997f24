package migrations

import (
	"context"
	"database/sql"
)

// Migrations brings a freshly provisioned sandbox database to the schema a
// test expects before the test sees it.
type Migrations interface {
	Up(ctx context.Context, db *sql.DB) error
}

// Nil applies nothing.
var Nil nilMigrations

type nilMigrations struct{}

func (nilMigrations) Up(context.Context, *sql.DB) error {
	return nil
}
