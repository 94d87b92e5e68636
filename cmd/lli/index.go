package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chouzz/llm-interceptor/internal/store"
)

func newIndexCmd(a *app) *cobra.Command {
	var input, dbPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Import merged records into the SQLite index",
		Long: `Index loads a merged records file into the SQLite database so the
stats command can answer aggregate questions. Importing the same file
again replaces existing rows by request id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				input = a.cfg.Storage.MergedFile
			}
			if dbPath == "" {
				dbPath = a.cfg.Storage.DBPath
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening index: %w", err)
			}
			defer st.Close()

			stats, err := st.ImportRecords(cmd.Context(), input)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Imported %d records, %d tool calls\n", stats.Records, stats.ToolCalls)
			if stats.Skipped > 0 {
				warnColor.Fprintf(w, "Skipped %d undecodable lines\n", stats.Skipped)
			}
			okColor.Fprintf(w, "Index updated at %s\n", dbPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "merged records file (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "index database path (default from config)")
	return cmd
}
