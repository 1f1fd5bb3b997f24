// Package postgresfixture provisions disposable postgres environments for
// tests: a throwaway server inside a container, an isolated
// database-plus-role sandbox inside a running server, or both nested. Every
// provisioning call tears down what it acquired on every exit path, in
// reverse acquisition order, without letting a teardown failure hide the
// caller's own error.
package postgresfixture

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Setting is a single extra connection option, passed through to derived
// params unchanged.
type Setting struct {
	Key   string
	Value string
}

// Params describes how to reach a postgres server. It is a value type:
// deriving methods return a modified copy and never mutate the receiver, so
// one Params value can be shared between concurrent provisionings. Extra
// options keep their insertion order, which keeps rendered connection
// strings reproducible.
type Params struct {
	Host           string
	Port           uint16
	User           string
	Password       string
	Database       string
	ConnectTimeout time.Duration

	settings []Setting
}

const (
	defaultHost     = "127.0.0.1"
	defaultPort     = 5432
	defaultUser     = "postgres"
	defaultPassword = "postgres"
	defaultDatabase = "postgres"
	defaultTimeout  = 5 * time.Second
)

// DefaultParams returns the well-known credentials an ephemeral server
// container is provisioned with.
func DefaultParams() Params {
	params := Params{
		Host:           defaultHost,
		Port:           defaultPort,
		User:           defaultUser,
		Password:       defaultPassword,
		Database:       defaultDatabase,
		ConnectTimeout: defaultTimeout,
	}

	return params.WithSetting("sslmode", "disable")
}

// ParseParams builds Params from a libpq connection string or URL, e.g. the
// value of KPOSTGRES_CONNECTION_STRING pointing at an external server.
func ParseParams(connString string) (Params, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return Params{}, fmt.Errorf("parse connection string, %w", err)
	}

	params := Params{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		Database:       cfg.Database,
		ConnectTimeout: cfg.ConnectTimeout,
	}

	// RuntimeParams is a map; sort the keys so the derived value renders the
	// same connection string on every run.
	keys := make([]string, 0, len(cfg.RuntimeParams))
	for key := range cfg.RuntimeParams {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		params = params.WithSetting(key, cfg.RuntimeParams[key])
	}

	return params, nil
}

func (p Params) clone() Params {
	p.settings = slices.Clone(p.settings)

	return p
}

// WithHost derives new Params pointing at a different host.
func (p Params) WithHost(host string) Params {
	p = p.clone()
	p.Host = host

	return p
}

// WithPort derives new Params pointing at a different port.
func (p Params) WithPort(port uint16) Params {
	p = p.clone()
	p.Port = port

	return p
}

// WithDatabase derives new Params pointing at a different database.
func (p Params) WithDatabase(database string) Params {
	p = p.clone()
	p.Database = database

	return p
}

// WithCredentials derives new Params authenticating as a different role.
func (p Params) WithCredentials(user, password string) Params {
	p = p.clone()
	p.User = user
	p.Password = password

	return p
}

// WithConnectTimeout derives new Params with a different connect timeout.
func (p Params) WithConnectTimeout(timeout time.Duration) Params {
	p = p.clone()
	p.ConnectTimeout = timeout

	return p
}

// WithSetting derives new Params carrying the extra option. An existing key
// is replaced in place, keeping its position; a new key is appended.
func (p Params) WithSetting(key, value string) Params {
	p = p.clone()

	for i, setting := range p.settings {
		if setting.Key == key {
			p.settings[i].Value = value

			return p
		}
	}

	p.settings = append(p.settings, Setting{Key: key, Value: value})

	return p
}

// Settings returns a copy of the extra options in insertion order.
func (p Params) Settings() []Setting {
	return slices.Clone(p.settings)
}

// ConnString renders the params as a libpq keyword/value connection string,
// accepted by pgx.Connect and by database/sql with the pgx stdlib driver.
func (p Params) ConnString() string {
	parts := make([]string, 0, 6+len(p.settings))

	if p.Host != "" {
		parts = append(parts, "host="+p.Host)
	}

	if p.Port != 0 {
		parts = append(parts, "port="+strconv.FormatUint(uint64(p.Port), 10))
	}

	if p.User != "" {
		parts = append(parts, "user="+p.User)
	}

	if p.Password != "" {
		parts = append(parts, "password="+p.Password)
	}

	if p.Database != "" {
		parts = append(parts, "dbname="+p.Database)
	}

	if p.ConnectTimeout > 0 {
		seconds := int64(p.ConnectTimeout / time.Second)
		if seconds < 1 {
			seconds = 1
		}

		parts = append(parts, "connect_timeout="+strconv.FormatInt(seconds, 10))
	}

	for _, setting := range p.settings {
		parts = append(parts, setting.Key+"="+setting.Value)
	}

	return strings.Join(parts, " ")
}
