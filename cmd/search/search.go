// Package search contains the command running a single search against an index.
package search

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sievesearch/sieve/cmd/util"
	"github.com/sievesearch/sieve/internal/service"
	"github.com/sievesearch/sieve/pkg/engine"
	"github.com/sievesearch/sieve/pkg/logger"
	ranking "github.com/sievesearch/sieve/pkg/search"
)

const (
	offsetFlag   = "offset"
	limitFlag    = "limit"
	strategyFlag = "strategy"
	explainFlag  = "explain"
	outputFlag   = "output"
)

func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an index",
		Long: `Search an index and print the page of hits. The query words are joined with
spaces when passed as several arguments.`,
		Example: `sieve search --index-documents movies.jsonl "the dark knight"
sieve search --index-engine sqlite --index-uri index.db --strategy all --output json batman begins`,
		RunE: runSearch,
		Args: cobra.MinimumNArgs(1),
	}

	flags := cmd.Flags()
	flags.Int(offsetFlag, 0, "the number of hits to skip")
	flags.Int(limitFlag, 0, "the maximum number of hits to return (the default limit if 0)")
	flags.String(strategyFlag, "", "the terms matching strategy of this search ('all' or 'last', the configured strategy if omitted)")
	flags.Bool(explainFlag, false, "print the buckets computed by the ranking rules")
	flags.StringP(outputFlag, "o", "text", "the output format ('text' or 'json')")

	cmd.PreRun = util.BindFlagsFunc(
		util.AddLogFlags(flags),
		util.AddIndexFlags(flags),
		util.AddSearchFlags(flags),
	)

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	output, _ := flags.GetString(outputFlag)
	if output != "text" && output != "json" {
		return fmt.Errorf("output format must be one of ['text', 'json'], got '%s'", output)
	}

	cfg, err := util.ReadConfig()
	if err != nil {
		return err
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

	e, closeEngine, err := service.NewEngine(cfg, idx, log)
	if err != nil {
		return err
	}
	defer closeEngine()

	req := &engine.SearchRequest{Query: strings.Join(args, " ")}
	req.Offset, _ = flags.GetInt(offsetFlag)
	req.Limit, _ = flags.GetInt(limitFlag)
	req.Strategy, _ = flags.GetString(strategyFlag)
	req.Explain, _ = flags.GetBool(explainFlag)

	result, err := e.Search(ctx, req)
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printText(cmd.OutOrStdout(), result)
}

func printText(out io.Writer, result *engine.SearchResult) error {
	fmt.Fprintf(out, "%d hit(s) for %q (strategy %s, %dms)\n",
		result.EstimatedTotalHits, strings.Join(result.Query, " "), result.Strategy, result.ProcessingTimeMs)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, hit := range result.Hits {
		for i, name := range slices.Sorted(maps.Keys(hit.Fields)) {
			id := ""
			if i == 0 {
				id = fmt.Sprint(hit.ID)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, name, hit.Fields[name])
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, event := range result.Explain {
		if event.Kind != ranking.EventNextBucket {
			continue
		}
		fmt.Fprintf(out, "bucket %s: %d candidate(s) %s\n", event.Rule, event.Candidates, event.Query)
	}
	return nil
}
