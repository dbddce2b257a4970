package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DatabaseConfig carries the connection settings for a persistence client.
// Driver selects the backend: "postgres" or "sqlite3".
type DatabaseConfig struct {
	Debug          bool
	Driver         string
	Server         string
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c DatabaseConfig) GetDebug() bool    { return c.Debug }
func (c DatabaseConfig) GetDriver() string { return c.Driver }
func (c DatabaseConfig) GetServer() string { return c.Server }

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-crm-connect"
	}
	return c.OtelIdentifier
}

// OpenClient opens the underlying database and wraps it in a persistence
// client with the dialect matching the configured driver. Callers own the
// returned client and should run migrations before building stores.
func OpenClient(cfg DatabaseConfig) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	var dialect schema.Dialect
	switch driver {
	case "postgres", "postgresql", "pg":
		driver = "postgres"
		dialect = pgdialect.New()
	case "sqlite", "sqlite3":
		driver = "sqlite3"
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, fmt.Errorf("sqlstore: database server dsn is required")
	}

	sqlDB, err := sql.Open(driver, cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", driver, err)
	}
	cfg.Driver = driver

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return client, nil
}
