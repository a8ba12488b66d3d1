// Package cli implements the graphopt command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergeeey/TERAG111-sub002/internal/app"
	"github.com/sergeeey/TERAG111-sub002/internal/config"
)

// globals holds flags shared by every subcommand.
type globals struct {
	configPath string
	logPath    string
	asJSON     bool
	verbose    bool

	app *app.App
}

// NewRootCmd wires the cobra root command.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "graphopt",
		Short: "Detect slow graph queries and create the indexes they need",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.open(cmd.Context(), cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if g.app == nil {
				return nil
			}
			return g.app.Close(context.WithoutCancel(cmd.Context()))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath, "Path to the YAML config file")
	root.PersistentFlags().StringVar(&g.logPath, "log-path", "", "Query log to scan (overrides config)")
	root.PersistentFlags().BoolVar(&g.asJSON, "json", false, "Print JSON instead of text")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newRunCommand(g),
		newDetectCommand(g),
		newShapesCommand(g),
		newAdviseCommand(g),
		newLedgerCommand(g),
		newBreakerCommand(g),
		newRunsCommand(g),
	)
	return root
}

func (g *globals) open(ctx context.Context, stderr io.Writer) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logPath != "" {
		cfg.LogPath = g.logPath
	}

	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	g.app = a
	return nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the root command and exits non-zero on error.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
