package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/goliatone/go-mantis/configfile"
	mantismigrations "github.com/goliatone/go-mantis/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

// persistenceConfig adapts the database section to go-persistence-bun.
type persistenceConfig struct {
	database configfile.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.database.Debug }
func (c persistenceConfig) GetDriver() string             { return sqlDriverName(c.database.Driver) }
func (c persistenceConfig) GetServer() string             { return c.database.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "mantis" }

// sqlDriverName maps the configured driver to the database/sql registration:
// lib/pq registers "postgres", modernc.org/sqlite registers "sqlite".
func sqlDriverName(driver string) string {
	if driver == configfile.DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

func migrationDialect(driver string) string {
	if driver == configfile.DriverPostgres {
		return mantismigrations.DialectPostgres
	}
	return mantismigrations.DialectSQLite
}

func openPersistence(database configfile.DatabaseConfig) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch database.Driver {
	case configfile.DriverPostgres:
		dialect = pgdialect.New()
	case configfile.DriverSQLite:
		dialect = sqlitedialect.New()
	default:
		return nil, fmt.Errorf("mantis: unsupported database driver %q", database.Driver)
	}
	sqlDB, err := sql.Open(sqlDriverName(database.Driver), database.DSN)
	if err != nil {
		return nil, fmt.Errorf("mantis: open %s: %w", database.Driver, err)
	}
	if database.Driver == configfile.DriverSQLite {
		// sqlite serialises writers; one connection keeps claims ordered.
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{database: database}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("mantis: persistence client: %w", err)
	}
	return client, nil
}

// migrate registers the embedded migrations for the active dialect and runs
// them.
func migrate(ctx context.Context, client *persistence.Client, driver string) error {
	target := migrationDialect(driver)
	_, err := mantismigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == target {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, mantismigrations.WithValidationTargets(target))
	if err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("mantis: migrate: %w", err)
	}
	return nil
}
