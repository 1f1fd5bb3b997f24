package pgrunner

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"go.uber.org/zap"

	kpostgres "github.com/norcalli/kpostgres-fixture"
	postgresfixture "github.com/norcalli/kpostgres-fixture/postgres"
	"github.com/norcalli/kpostgres-fixture/postgres/migrations"
)

const connectionStringEnvName = "KPOSTGRES_CONNECTION_STRING"

var errNoConnectionString = errors.New("connection string is empty and environment variable " + connectionStringEnvName + " is empty")

// ExternalConfig points the runner at an already-running server reachable
// with administrative credentials; only the sandbox is provisioned.
type ExternalConfig struct {
	ConnectionString string
	DriverName       string
	Logger           *zap.Logger
	Options          []postgresfixture.Option
}

func (cfg *ExternalConfig) adminParams() (postgresfixture.Params, error) {
	connectionString := ""
	if cfg != nil {
		connectionString = cfg.ConnectionString
	}

	if connectionString == "" {
		connectionString = os.Getenv(connectionStringEnvName)
	}

	if connectionString == "" {
		return postgresfixture.Params{}, errNoConnectionString
	}

	return postgresfixture.ParseParams(connectionString)
}

func (cfg *ExternalConfig) runnerConfig() *Config {
	if cfg == nil {
		return nil
	}

	return &Config{
		DriverName: cfg.DriverName,
		Logger:     cfg.Logger,
		Options:    cfg.Options,
	}
}

// UseExternalForTesting provisions a sandbox inside the server named by
// KPOSTGRES_CONNECTION_STRING and returns a pool on it.
func UseExternalForTesting(
	t *testing.T,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) *sql.DB {
	return UseExternalForTestingConfig(t, nil, migrations, initialQueries...)
}

func UseExternalForTestingConfig(
	t *testing.T,
	cfg *ExternalConfig,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) *sql.DB {
	kpostgres.SkipDisabled(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, term, err := UseExternalConfig(ctx, cfg, migrations, initialQueries...)
	t.Cleanup(term)

	if err != nil {
		t.Fatalf("provision sandbox on external postgres, err: %s", err)
	}

	return db
}

func UseExternal(
	ctx context.Context,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) (db *sql.DB, term func(), err error) {
	return UseExternalConfig(ctx, nil, migrations, initialQueries...)
}

func UseExternalConfig(
	ctx context.Context,
	cfg *ExternalConfig,
	migrations migrations.Migrations,
	initialQueries ...postgresfixture.Query,
) (db *sql.DB, term func(), err error) {
	admin, err := cfg.adminParams()
	if err != nil {
		return nil, func() {}, err
	}

	runnerCfg := cfg.runnerConfig()
	opts := runnerCfg.fixtureOptions()

	provision := func(ctx context.Context, task postgresfixture.DatabaseTask[struct{}]) error {
		_, err := postgresfixture.RunWithDatabase(ctx, admin, task, opts...)

		return err
	}

	return runSandboxSession(ctx, runnerCfg, provision, migrations, initialQueries...)
}
