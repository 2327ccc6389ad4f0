package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JoeyEamigh/ccmemory/internal/sector"
	"github.com/JoeyEamigh/ccmemory/internal/store"
)

var (
	addSummary    string
	addSector     string
	addImportance float64
	addTags       []string
	addConcepts   []string
	addFiles      []string
	addSession    string

	listSector     string
	listTier       string
	listSuperseded bool
	listLimit      int

	deleteHard bool
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a memory and its relationships",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories in the project, newest first",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a memory (soft by default)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var supersedeCmd = &cobra.Command{
	Use:   "supersede [old-id] [new-id]",
	Short: "Mark old-id as replaced by new-id",
	Args:  cobra.ExactArgs(2),
	RunE:  runSupersede,
}

func init() {
	addCmd.Flags().StringVar(&addSummary, "summary", "", "short summary")
	addCmd.Flags().StringVarP(&addSector, "sector", "s", "", "sector (classified from content when empty)")
	addCmd.Flags().Float64Var(&addImportance, "importance", store.DefaultImportance, "importance in [0,1]")
	addCmd.Flags().StringSliceVarP(&addTags, "tag", "t", nil, "tag (repeatable)")
	addCmd.Flags().StringSliceVar(&addConcepts, "concept", nil, "concept (repeatable)")
	addCmd.Flags().StringSliceVarP(&addFiles, "file", "f", nil, "related file path (repeatable)")
	addCmd.Flags().StringVar(&addSession, "session", "", "session id; the memory starts in the session tier")

	listCmd.Flags().StringVarP(&listSector, "sector", "s", "", "filter by sector")
	listCmd.Flags().StringVar(&listTier, "tier", "", "filter by tier (session|project)")
	listCmd.Flags().BoolVar(&listSuperseded, "include-superseded", false, "include superseded memories")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "maximum number of memories")

	deleteCmd.Flags().BoolVar(&deleteHard, "hard", false, "remove the memory and its links permanently")
}

func runAdd(cmd *cobra.Command, args []string) error {
	project, err := resolveProject()
	if err != nil {
		return err
	}
	in := store.MemoryInput{
		Content:  strings.Join(args, " "),
		Summary:  addSummary,
		Tags:     addTags,
		Concepts: addConcepts,
		Files:    addFiles,
	}
	if addSector != "" {
		if in.Sector, err = sector.Parse(addSector); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("importance") {
		imp := addImportance
		in.Importance = &imp
	}

	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	res, err := eng.Remember(cmd.Context(), in, project, addSession)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	verb := "stored"
	if res.Duplicate {
		verb = "reinforced existing"
	}
	fmt.Fprintf(out, "%s %s [%s, salience %.2f]\n", verb, res.Memory.ID, res.Memory.Sector, res.Memory.Salience)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()
	ctx := cmd.Context()

	m, err := eng.DB.GetMemory(ctx, args[0])
	if err != nil {
		return err
	}
	related, err := eng.DB.GetRelatedMemories(ctx, m.ID, "")
	if err != nil {
		return err
	}
	succ, err := eng.DB.GetSupersedingMemory(ctx, m.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{
			"memory":        m,
			"related":       related,
			"superseded_by": succ,
		})
	}
	printMemory(out, m)
	if succ != nil {
		fmt.Fprintf(out, "superseded by: %s\n", succ.ID)
	}
	if len(related) > 0 {
		fmt.Fprintln(out, "\n## Related")
		for _, rm := range related {
			arrow := "<-"
			if rm.Outgoing {
				arrow = "->"
			}
			fmt.Fprintf(out, "  %s %s %s  %s\n", arrow, rm.Relationship.Type, rm.Memory.ID, truncate(rm.Memory.Content, 80))
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	project, err := resolveProject()
	if err != nil {
		return err
	}
	opts := store.ListOptions{
		ProjectID:         project,
		Tier:              store.Tier(listTier),
		IncludeSuperseded: listSuperseded,
		Limit:             listLimit,
	}
	if listSector != "" {
		if opts.Sector, err = sector.Parse(listSector); err != nil {
			return err
		}
	}

	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	mems, err := eng.DB.ListMemories(cmd.Context(), opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, mems)
	}
	if len(mems) == 0 {
		fmt.Fprintln(out, "No memories found.")
		return nil
	}
	for _, m := range mems {
		fmt.Fprintf(out, "%s [%s/%s %.2f] %s\n", m.ID, m.Sector, m.Tier, m.Salience, truncate(m.Content, 80))
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	if err := eng.DB.DeleteMemory(cmd.Context(), args[0], deleteHard); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runSupersede(cmd *cobra.Command, args []string) error {
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	rel, err := eng.DB.Supersede(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, rel)
	}
	fmt.Fprintf(out, "%s supersedes %s\n", args[1], args[0])
	return nil
}

func printMemory(w io.Writer, m *store.Memory) {
	fmt.Fprintf(w, "%s\n", m.ID)
	fmt.Fprintf(w, "  sector: %s  tier: %s  salience: %.3f  importance: %.2f  accessed: %d\n",
		m.Sector, m.Tier, m.Salience, m.Importance, m.AccessCount)
	fmt.Fprintf(w, "  created: %s\n", time.UnixMilli(m.CreatedAt).Format(time.DateTime))
	if m.IsSuperseded() {
		fmt.Fprintf(w, "  valid until: %s\n", time.UnixMilli(*m.ValidUntil).Format(time.DateTime))
	}
	if len(m.Tags) > 0 {
		fmt.Fprintf(w, "  tags: %s\n", strings.Join(m.Tags, ", "))
	}
	if len(m.Files) > 0 {
		fmt.Fprintf(w, "  files: %s\n", strings.Join(m.Files, ", "))
	}
	if m.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", m.Summary)
	}
	fmt.Fprintf(w, "\n%s\n", m.Content)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
