// Package migrate contains the command to perform index schema migrations.
package migrate

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/cmd/util"
	"github.com/sievesearch/sieve/pkg/index"
	"github.com/sievesearch/sieve/pkg/index/sqlite"
	"github.com/sievesearch/sieve/pkg/logger"
)

const (
	indexEngineFlag      = "index.engine"
	indexURIFlag         = "index.uri"
	versionFlag          = "version"
	timeoutFlag          = "timeout"
	verboseMigrationFlag = "verbose"
)

var migrationProviders = index.NewMigratorRegistry(sqlite.NewMigrationProvider())

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the index schema migrations",
		Long:  `The migrate command creates or upgrades the schema of a persistent index.`,
		RunE:  runMigration,
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()

	flags.String("index-engine", "", "(required) the index engine to migrate")
	flags.String("index-uri", "", "(required) the database to run the migrations against (e.g. '/var/lib/sieve/index.db')")
	flags.Uint(versionFlag, 0, "the version to migrate to (if omitted the latest schema will be used)")
	flags.Duration(timeoutFlag, 1*time.Minute, "a timeout for the time it takes the migrate process to connect to the database")
	flags.Bool(verboseMigrationFlag, false, "enable verbose migration logs (default false)")
	logBindings := util.AddLogFlags(flags)

	// NOTE: if you add a new flag here, add its binding below, too

	cmd.PreRun = util.BindFlagsFunc(
		[]util.FlagBinding{
			{Flag: "index-engine", Key: indexEngineFlag},
			{Flag: "index-uri", Key: indexURIFlag},
			{Flag: versionFlag, Key: versionFlag},
			{Flag: timeoutFlag, Key: timeoutFlag},
			{Flag: verboseMigrationFlag, Key: verboseMigrationFlag},
		},
		logBindings,
	)

	return cmd
}

func runMigration(cmd *cobra.Command, _ []string) error {
	engine := viper.GetString(indexEngineFlag)
	uri := viper.GetString(indexURIFlag)
	targetVersion := viper.GetUint(versionFlag)
	timeout := viper.GetDuration(timeoutFlag)
	verbose := viper.GetBool(verboseMigrationFlag)

	log, err := logger.NewLogger(viper.GetString("log.format"), viper.GetString("log.level"), viper.GetString("log.timestampFormat"))
	if err != nil {
		return err
	}

	switch engine {
	case "memory":
		log.Info("no migrations to run for `memory` index")
		return nil
	case "":
		return fmt.Errorf("missing index engine type")
	}

	provider, ok := migrationProviders.GetProvider(engine)
	if !ok {
		return fmt.Errorf("unknown index engine type: %s", engine)
	}
	if uri == "" {
		return fmt.Errorf("missing index uri")
	}

	err = provider.RunMigrations(cmd.Context(), index.MigrationConfig{
		Engine:        engine,
		URI:           uri,
		TargetVersion: targetVersion,
		Timeout:       timeout,
		Verbose:       verbose,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := provider.GetCurrentVersion(cmd.Context(), index.MigrationConfig{Engine: engine, URI: uri})
	if err != nil {
		return err
	}
	log.Info("migration done", zap.Int64("version", version))

	return nil
}
