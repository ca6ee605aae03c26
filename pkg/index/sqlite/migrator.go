package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/assets"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/logger"
)

const engine = "sqlite"

// MigrationProvider implements [index.MigrationProvider] for SQLite.
type MigrationProvider struct{}

var _ index.MigrationProvider = (*MigrationProvider)(nil)

func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

// GetSupportedEngine see [index.MigrationProvider].GetSupportedEngine.
func (p *MigrationProvider) GetSupportedEngine() string {
	return engine
}

// RunMigrations migrates the index to config.TargetVersion, or to the latest
// revision if it is zero.
func (p *MigrationProvider) RunMigrations(ctx context.Context, config index.MigrationConfig) error {
	log := config.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetVerbose(config.Verbose)

	if err := goose.SetDialect(engine); err != nil {
		return fmt.Errorf("failed to set sqlite dialect: %w", err)
	}

	db, err := p.open(config)
	if err != nil {
		return err
	}
	defer db.Close()

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = config.Timeout
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite connection: %w", err)
	}

	goose.SetBaseFS(assets.EmbedMigrations)

	return p.executeMigrations(ctx, db, config, log)
}

// GetCurrentVersion see [index.MigrationProvider].GetCurrentVersion.
func (p *MigrationProvider) GetCurrentVersion(ctx context.Context, config index.MigrationConfig) (int64, error) {
	db, err := p.open(config)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	goose.SetBaseFS(assets.EmbedMigrations)
	return goose.GetDBVersionContext(ctx, db)
}

func (p *MigrationProvider) open(config index.MigrationConfig) (*sql.DB, error) {
	uri, err := PrepareDSN(config.URI)
	if err != nil {
		return nil, err
	}

	db, err := goose.OpenDBWithDriver(engine, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	return db, nil
}

func (p *MigrationProvider) executeMigrations(ctx context.Context, db *sql.DB, config index.MigrationConfig, log logger.Logger) error {
	migrationsPath := assets.SqliteMigrationDir

	currentVersion, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get sqlite db version: %w", err)
	}

	log.Info("sqlite current version", zap.Int64("version", currentVersion))

	if config.TargetVersion == 0 {
		log.Info("running all sqlite migrations")
		if err := goose.UpContext(ctx, db, migrationsPath); err != nil {
			return fmt.Errorf("failed to run sqlite migrations: %w", err)
		}
		log.Info("sqlite migration done")
		return nil
	}

	targetVersion := int64(config.TargetVersion)
	log.Info("migrating sqlite", zap.Int64("target_version", targetVersion))

	switch {
	case targetVersion < currentVersion:
		if err := goose.DownToContext(ctx, db, migrationsPath, targetVersion); err != nil {
			return fmt.Errorf("failed to run sqlite migrations down to %v: %w", targetVersion, err)
		}
	case targetVersion > currentVersion:
		if err := goose.UpToContext(ctx, db, migrationsPath, targetVersion); err != nil {
			return fmt.Errorf("failed to run sqlite migrations up to %v: %w", targetVersion, err)
		}
	default:
		log.Info("sqlite nothing to do")
		return nil
	}

	log.Info("sqlite migration done")
	return nil
}
