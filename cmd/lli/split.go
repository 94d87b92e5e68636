package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chouzz/llm-interceptor/internal/split"
)

func newSplitCmd(a *app) *cobra.Command {
	var input, dir string

	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split merged records into readable text files",
		Long: `Split writes one formatted text file per merged record, named by
sequence number and timestamp, for reading captured exchanges directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				input = a.cfg.Storage.MergedFile
			}
			if dir == "" {
				dir = a.cfg.Storage.SplitDir
			}

			stats, err := split.New(a.logger).Split(input, dir)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Records: %d\n", stats.TotalRecords)
			fmt.Fprintf(w, "Created: %d\n", stats.FilesCreated)
			fmt.Fprintf(w, "Errors:  %d\n", stats.Errors)
			if stats.Errors > 0 {
				warnColor.Fprintf(w, "%d records could not be written\n", stats.Errors)
			} else {
				okColor.Fprintf(w, "Wrote %d files to %s\n", stats.FilesCreated, dir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "merged records file (default from config)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (default from config)")
	return cmd
}
