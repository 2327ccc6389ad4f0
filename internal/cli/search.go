package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JoeyEamigh/ccmemory/internal/engine"
	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

var (
	searchLimit      int
	searchSector     string
	searchTier       string
	searchSuperseded bool
	searchMinScore   float64

	timelineBefore int
	timelineAfter  int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Search the project's memories by keyword and, when an embedder is configured, vector similarity.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var timelineCmd = &cobra.Command{
	Use:   "timeline [id]",
	Short: "Show memories created around a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimeline,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default search.limit)")
	searchCmd.Flags().StringVarP(&searchSector, "sector", "s", "", "filter by sector")
	searchCmd.Flags().StringVar(&searchTier, "tier", "", "filter by tier (session|project)")
	searchCmd.Flags().BoolVar(&searchSuperseded, "include-superseded", false, "include superseded memories")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "drop results scoring below this")

	timelineCmd.Flags().IntVarP(&timelineBefore, "before", "b", 5, "memories before the anchor")
	timelineCmd.Flags().IntVarP(&timelineAfter, "after", "a", 5, "memories after the anchor")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	project, err := resolveProject()
	if err != nil {
		return err
	}

	opts := engine.SearchOpts{
		Limit:             searchLimit,
		IncludeSuperseded: searchSuperseded,
		Tier:              store.Tier(searchTier),
		MinScore:          searchMinScore,
	}
	if opts.Limit <= 0 {
		opts.Limit = cfg.Search.Limit
	}
	if searchSector != "" {
		if opts.Sector, err = sector.Parse(searchSector); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	eng, closeEngine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine()

	results, err := eng.Search(ctx, query, project, opts)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if results == nil {
			results = []engine.SearchResult{}
		}
		return printJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		mark := ""
		if r.IsSuperseded {
			mark = " (superseded)"
		}
		fmt.Fprintf(out, "%d. [%.3f] %s%s\n", i+1, r.Score, r.Memory.ID, mark)
		fmt.Fprintf(out, "   %s [%s]\n", truncate(r.Memory.Content, 200), r.Memory.Sector)
		fmt.Fprintln(out)
	}
	return nil
}

func runTimeline(cmd *cobra.Command, args []string) error {
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	tl, err := eng.Timeline(cmd.Context(), args[0], engine.TimelineOpts{Before: timelineBefore, After: timelineAfter})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, tl)
	}
	if tl.Session != nil {
		fmt.Fprintf(out, "## Session %s\n\n", tl.Session.ID)
	}
	line := func(prefix string, m *store.Memory) {
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%s [%s] %s  %s\n", prefix, ts, m.ID, truncate(m.Content, 80))
	}
	for _, m := range tl.Before {
		line(" ", m)
	}
	line(">", tl.Anchor)
	for _, m := range tl.After {
		line(" ", m)
	}
	return nil
}
