package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	embedLimit     int
	sessionSummary string
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one salience decay batch",
	RunE:  runDecay,
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed project memories that have no vector for the configured model",
	RunE:  runEmbed,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionEndCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session and promote its salient memories",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionEnd,
}

func init() {
	embedCmd.Flags().IntVarP(&embedLimit, "limit", "n", 500, "maximum number of memories to embed")
	sessionEndCmd.Flags().StringVar(&sessionSummary, "summary", "", "session summary")
	sessionCmd.AddCommand(sessionEndCmd)
}

func runDecay(cmd *cobra.Command, args []string) error {
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	res, err := eng.Decay.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "decay: processed %d, decayed %d\n", res.Processed, res.Decayed)
	return nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	project, err := resolveProject()
	if err != nil {
		return err
	}
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	if eng.Embedder == nil {
		return fmt.Errorf("no embedder configured (set embedding.provider)")
	}
	n, err := eng.EmbedMissing(cmd.Context(), project, embedLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "embedded %d memories with %s\n", n, eng.Embedder.Model())
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	eng, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	promoted, err := eng.Sessions.EndSession(cmd.Context(), args[0], sessionSummary)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"session": args[0], "promoted": promoted})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s ended, %d memories promoted\n", args[0], promoted)
	return nil
}
