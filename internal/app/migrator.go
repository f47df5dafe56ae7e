package app

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"beaconattend/internal/store"
)

// Migrator applies the embedded goose migrations for the connection's dialect.
type Migrator struct {
	provider *goose.Provider
	logger   *zap.Logger
}

// NewMigrator creates a migrator; it does not take ownership of db.
func NewMigrator(db *store.DB, logger *zap.Logger) (*Migrator, error) {
	var dialect goose.Dialect
	switch db.Dialect {
	case store.Postgres:
		dialect = goose.DialectPostgres
	case store.SQLite:
		dialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", db.Dialect)
	}

	fsys, err := db.Migrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db.Client, fsys)
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return &Migrator{provider: provider, logger: logger}, nil
}

// Run applies all pending migrations.
func (mg *Migrator) Run(ctx context.Context) error {
	results, err := mg.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		mg.logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("took", r.Duration))
	}
	return nil
}

// Down rolls back the most recent migration.
func (mg *Migrator) Down(ctx context.Context) error {
	r, err := mg.provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	mg.logger.Info("migration rolled back", zap.Int64("version", r.Source.Version))
	return nil
}

// Status logs the state of every known migration.
func (mg *Migrator) Status(ctx context.Context) error {
	statuses, err := mg.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	for _, s := range statuses {
		mg.logger.Info("migration",
			zap.Int64("version", s.Source.Version),
			zap.String("path", s.Source.Path),
			zap.String("state", string(s.State)),
			zap.Time("applied_at", s.AppliedAt))
	}
	return nil
}

// Version returns the current database version.
func (mg *Migrator) Version(ctx context.Context) (int64, error) {
	version, err := mg.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}
