package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chouzz/llm-interceptor/internal/analytics"
	"github.com/chouzz/llm-interceptor/internal/jsonl"
	"github.com/chouzz/llm-interceptor/internal/record"
	"github.com/chouzz/llm-interceptor/internal/store"
)

// dbFromConfig is the NoOptDefVal for --db: a bare --db reports on the
// database configured in storage.db_path.
const dbFromConfig = "<config>"

func newStatsCmd(a *app) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "stats [capture-file]",
		Short: "Summarize a capture file or the record index",
		Long: `Stats with a file argument counts capture events by record type. With
--db it reports on the SQLite index instead: traffic volume by
provider, status and day, tool usage, and anomalies.

Examples:
  # Record-type histogram of a capture file
  lli stats trace.jsonl

  # Analytics over the configured index
  lli stats --db

  # Analytics over a specific database
  lli stats --db=archive.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if dbPath != "" {
				if len(args) > 0 {
					return fmt.Errorf("pass either a capture file or --db, not both")
				}
				if dbPath == dbFromConfig {
					dbPath = a.cfg.Storage.DBPath
				}
				return runDBStats(cmd.Context(), w, dbPath)
			}
			if len(args) == 0 {
				return fmt.Errorf("pass a capture file, or --db for index analytics")
			}
			return runFileStats(w, args[0])
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "report on the record index (optionally --db=path)")
	cmd.Flags().Lookup("db").NoOptDefVal = dbFromConfig
	return cmd
}

func runFileStats(w io.Writer, path string) error {
	counts, err := jsonl.CountTypes(path)
	if err != nil {
		return err
	}

	t := newTable(w)
	t.SetHeader([]string{"Record type", "Count"})
	total := 0
	for _, name := range orderedTypes(counts) {
		label := name
		if label == "" {
			label = "(undecodable)"
		}
		t.Append([]string{label, strconv.Itoa(counts[name])})
		total += counts[name]
	}
	t.SetFooter([]string{"Total", strconv.Itoa(total)})
	t.Render()
	return nil
}

// orderedTypes lists histogram keys with the pipeline event kinds
// first and anything unexpected after, alphabetically.
func orderedTypes(counts map[string]int) []string {
	known := []string{
		record.TypeRequest,
		record.TypeResponseChunk,
		record.TypeResponseMeta,
		record.TypeResponse,
	}
	var names []string
	seen := make(map[string]bool)
	for _, name := range known {
		if _, ok := counts[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range counts {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func runDBStats(ctx context.Context, w io.Writer, dbPath string) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer st.Close()

	eng := analytics.NewEngine(st.DB())

	overall, err := eng.GetOverallStats(ctx)
	if err != nil {
		return err
	}
	if overall.TotalRecords == 0 {
		fmt.Fprintln(w, "Index is empty.")
		return nil
	}

	heading(w, "Overview")
	t := newTable(w)
	t.Append([]string{"Records", strconv.Itoa(overall.TotalRecords)})
	t.Append([]string{"Streaming", fmt.Sprintf("%d (%.0f%%)", overall.StreamingRecords, overall.StreamingShare)})
	t.Append([]string{"Chunks", strconv.Itoa(overall.TotalChunks)})
	t.Append([]string{"Tool calls", strconv.Itoa(overall.TotalToolCalls)})
	t.Append([]string{"Avg latency", fmtLatency(overall.AvgLatencyMS)})
	t.Append([]string{"Max latency", fmtLatency(overall.MaxLatencyMS)})
	if !overall.FirstSeen.IsZero() {
		t.Append([]string{"First seen", overall.FirstSeen.Format("2006-01-02 15:04:05")})
		t.Append([]string{"Last seen", overall.LastSeen.Format("2006-01-02 15:04:05")})
	}
	t.Render()

	providers, err := eng.GetVolumeByProvider(ctx)
	if err != nil {
		return err
	}
	renderVolume(w, "By provider", "Provider", providers)

	statuses, err := eng.GetVolumeByStatus(ctx)
	if err != nil {
		return err
	}
	renderVolume(w, "By status", "Status", statuses)

	days, err := eng.GetVolumeByDay(ctx)
	if err != nil {
		return err
	}
	renderVolume(w, "By day", "Day", days)

	tools, err := eng.GetToolUsage(ctx)
	if err != nil {
		return err
	}
	if len(tools) > 0 {
		fmt.Fprintln(w)
		heading(w, "Tool usage")
		tt := newTable(w)
		tt.SetHeader([]string{"Tool", "Invocations", "Records"})
		for _, u := range tools {
			tt.Append([]string{u.Name, strconv.Itoa(u.Invocations), strconv.Itoa(u.Records)})
		}
		tt.Render()
	}

	anomalies, err := eng.DetectAnomalies(ctx, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	if len(anomalies) == 0 {
		okColor.Fprintln(w, "No anomalies detected.")
		return nil
	}
	heading(w, "Anomalies")
	at := newTable(w)
	at.SetHeader([]string{"Type", "Severity", "Request", "Detail"})
	for _, an := range anomalies {
		at.Append([]string{string(an.Type), an.Severity, shortID(an.RequestID), an.Description})
	}
	at.Render()
	return nil
}

func renderVolume(w io.Writer, title, keyHeader string, buckets []*analytics.VolumeBucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintln(w)
	heading(w, title)
	t := newTable(w)
	t.SetHeader([]string{keyHeader, "Records", "Streaming", "Chunks", "Avg latency"})
	for _, b := range buckets {
		t.Append([]string{
			b.Key,
			strconv.Itoa(b.Records),
			strconv.Itoa(b.Streaming),
			strconv.Itoa(b.Chunks),
			fmtLatency(b.AvgLatencyMS),
		})
	}
	t.Render()
}
