package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JoeyEamigh/ccmemory/internal/config"
)

var (
	configPath string
	dbPath     string
	projectID  string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ccmemory",
	Short: "Memory lifecycle and retrieval for coding agents",
	Long: "ccmemory stores what a coding agent learns, lets unused memories fade, " +
		"and retrieves the relevant ones with hybrid keyword and vector search.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.ccmemory/config.toml)")
	pf.StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	pf.StringVarP(&projectID, "project", "p", "", "project id (default $CCMEMORY_PROJECT or the working directory)")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(supersedeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(sessionCmd)
}

// setup loads .env, configuration and the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.Database.Path = dbPath
	}
	cfg = c
	logger = newLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return nil
}

func newLogger(lc config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// resolveProject returns the --project flag, $CCMEMORY_PROJECT, or the
// working directory, in that order.
func resolveProject() (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	if p := os.Getenv("CCMEMORY_PROJECT"); p != "" {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve project: %w", err)
	}
	return wd, nil
}
