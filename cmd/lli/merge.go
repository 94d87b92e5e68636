package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chouzz/llm-interceptor/internal/merge"
)

func newMergeCmd(a *app) *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge capture events into one record per exchange",
		Long: `Merge reads a capture file and reduces each exchange to a single
merged record: streamed chunks are reassembled into complete response
text and tool calls, non-streaming bodies are extracted directly.

Examples:
  # Merge the configured capture file
  lli merge

  # Explicit input and output
  lli merge -i trace.jsonl -o merged.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				input = a.cfg.Storage.CaptureFile
			}
			if output == "" {
				output = a.cfg.Storage.MergedFile
			}

			stats, err := merge.New(a.logger).MergeFile(input, output)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			t := newTable(w)
			t.SetHeader([]string{"Metric", "Count"})
			t.Append([]string{"Total requests", strconv.Itoa(stats.TotalRequests)})
			t.Append([]string{"Streaming", strconv.Itoa(stats.StreamingRequests)})
			t.Append([]string{"Non-streaming", strconv.Itoa(stats.NonStreamingRequests)})
			t.Append([]string{"Incomplete", strconv.Itoa(stats.IncompleteRequests)})
			t.Append([]string{"Chunks processed", strconv.Itoa(stats.TotalChunksProcessed)})
			t.Render()

			written := stats.TotalRequests - stats.IncompleteRequests
			okColor.Fprintf(w, "Wrote %d records to %s\n", written, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "capture file to merge (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "merged output file (default from config)")
	return cmd
}
