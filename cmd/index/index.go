// Package index contains the command writing documents to an index.
package index

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sievesearch/sieve/cmd/util"
	"github.com/sievesearch/sieve/internal/service"
	"github.com/sievesearch/sieve/pkg/logger"
)

const deleteFlag = "delete"

func NewIndexCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [documents.jsonl | -]",
		Short: "Write documents to a persistent index",
		Long: `Write the documents of a JSON lines file, or of the standard input when the
file is '-', to a sqlite index. Documents replace the indexed documents with
the same id. The index must have been migrated first.`,
		Example: `sieve index --index-engine sqlite --index-uri index.db movies.jsonl
cat movies.jsonl | sieve index --index-engine sqlite --index-uri index.db -
sieve index --index-engine sqlite --index-uri index.db --delete 12,42`,
		RunE: runIndex,
		Args: cobra.MaximumNArgs(1),
	}

	flags := cmd.Flags()
	flags.UintSlice(deleteFlag, nil, "the ids of the documents to remove from the index")

	cmd.PreRun = util.BindFlagsFunc(
		util.AddLogFlags(flags),
		util.AddIndexFlags(flags),
	)

	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}

	deletions, err := cmd.Flags().GetUintSlice(deleteFlag)
	if err != nil {
		return err
	}
	if len(args) == 0 && len(deletions) == 0 {
		return fmt.Errorf("nothing to do: pass a documents file or --%s", deleteFlag)
	}
	if cfg.Index.Engine == "memory" {
		return fmt.Errorf("the memory index does not persist documents, use the sqlite engine")
	}
	if err := cfg.Verify(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level, cfg.Log.TimestampFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	idx, err := service.OpenIndex(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer idx.Close()

	if len(deletions) > 0 {
		ids := make([]uint32, 0, len(deletions))
		for _, id := range deletions {
			ids = append(ids, uint32(id))
		}
		if err := idx.DeleteDocuments(ctx, ids); err != nil {
			return fmt.Errorf("delete documents: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d document(s)\n", len(ids))
	}

	if len(args) == 1 {
		n, err := service.LoadDocuments(ctx, cfg, idx, args[0], log)
		if err != nil {
			return err
		}
		log.Info("indexed documents", zap.Int("documents", n))
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d document(s)\n", n)
	}

	return nil
}
