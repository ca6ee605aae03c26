package index

import (
	"context"
	"time"

	"github.com/sievesearch/sieve/pkg/logger"
)

// MigrationProvider runs the schema migrations of an index engine.
type MigrationProvider interface {
	// RunMigrations executes the migrations with the provided configuration.
	RunMigrations(ctx context.Context, config MigrationConfig) error

	// GetCurrentVersion returns the current migration version of the index.
	GetCurrentVersion(ctx context.Context, config MigrationConfig) (int64, error)

	// GetSupportedEngine returns the index engine this provider supports.
	GetSupportedEngine() string
}

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig struct {
	Engine        string
	URI           string
	TargetVersion uint
	Timeout       time.Duration
	Verbose       bool
	Logger        logger.Logger
}

// MigratorRegistry holds the migration providers of the index engines.
type MigratorRegistry struct {
	providers map[string]MigrationProvider
}

func NewMigratorRegistry(providers ...MigrationProvider) *MigratorRegistry {
	r := &MigratorRegistry{
		providers: make(map[string]MigrationProvider),
	}
	for _, p := range providers {
		r.RegisterProvider(p)
	}
	return r
}

// RegisterProvider registers a provider under the engine it supports.
func (r *MigratorRegistry) RegisterProvider(provider MigrationProvider) {
	r.providers[provider.GetSupportedEngine()] = provider
}

// GetProvider returns the migration provider for the specified engine.
func (r *MigratorRegistry) GetProvider(engine string) (MigrationProvider, bool) {
	provider, exists := r.providers[engine]
	return provider, exists
}
