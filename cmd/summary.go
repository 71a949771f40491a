package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/terabiome/clusterup/internal/provisioner"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
)

func statusColor(status provisioner.Status) *color.Color {
	switch status {
	case provisioner.StatusFailed:
		return failColor
	case provisioner.StatusSkipped:
		return skipColor
	default:
		return okColor
	}
}

// printReport writes one row per instance followed by a totals line.
func printReport(w io.Writer, report *provisioner.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tSTATUS\tATTEMPTS\tDURATION\tDETAIL")
	for _, res := range report.Results {
		detail := "-"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			res.Instance,
			statusColor(res.Status).Sprint(res.Status),
			res.Attempts,
			res.Duration.Round(time.Millisecond),
			detail,
		)
	}
	_ = tw.Flush()

	totals := okColor
	if !report.OK() {
		totals = failColor
	}
	totals.Fprintf(w, "%s: %d succeeded, %d failed, %d skipped in %s\n",
		report.Operation,
		report.Succeeded(),
		report.Failed(),
		report.Skipped(),
		report.Duration.Round(time.Millisecond),
	)
}
