package db

import (
	"context"
	"embed"
	"fmt"

	"bulletin/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationTable is the goose version table.
const MigrationTable = "bulletin_schema_migrations"

// Migrate applies every pending migration. The *sql.DB bridge shares the
// pool's connections and is intentionally not closed.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger types.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(pool)

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(&gooseLogger{logger: logger})
	goose.SetTableName(MigrationTable)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through types.Logger. Fatalf only logs;
// goose still returns the error to the caller.
type gooseLogger struct {
	logger types.Logger
}

func (g *gooseLogger) Printf(format string, args ...any) {
	g.logger.Info(fmt.Sprintf(format, args...))
}

func (g *gooseLogger) Fatalf(format string, args ...any) {
	g.logger.Error(fmt.Sprintf(format, args...))
}
