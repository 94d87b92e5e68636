package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chouzz/llm-interceptor/internal/config"
)

// app carries the state every subcommand needs after the root
// PersistentPreRunE has loaded configuration and set up logging.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	configPath string
	verbose    bool
}

// resolveConfigPath returns the explicit --config path when given,
// otherwise the platform default.
func (a *app) resolveConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.DefaultConfigPath()
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "lli",
		Short: "Capture, merge and inspect LLM API traffic",
		Long: `lli records LLM API exchanges as JSONL event streams and turns them
into complete per-exchange records: streamed chunks are reassembled
into full response text and tool calls, merged records can be split
into readable text files, and an SQLite index answers aggregate
questions about captured traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a.cfg, err = config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			a.logger = newLogger(&a.cfg.Logging, a.verbose)
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newMergeCmd(a),
		newSplitCmd(a),
		newStatsCmd(a),
		newIndexCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	return root
}
