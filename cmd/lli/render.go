package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	headColor = color.New(color.Bold)
)

// newTable returns a minimally decorated table for terminal output.
func newTable(w io.Writer) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetBorder(false)
	t.SetAutoWrapText(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}

func heading(w io.Writer, text string) {
	headColor.Fprintln(w, text)
}

func fmtLatency(ms float64) string {
	return fmt.Sprintf("%.1f ms", ms)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
