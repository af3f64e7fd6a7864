package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

func writeJSON(w io.Writer, results []fileResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// writeSummary prints one block per file followed by a totals line.
func writeSummary(w io.Writer, results []fileResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	var records, dups int
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s %s (%s)\n", red("✗"), bold(r.File), r.ErrorCode)
			fmt.Fprintf(w, "  %s\n", r.Error)
		} else {
			rep := r.Report
			records += rep.Records
			dups += rep.Duplicates()
			fmt.Fprintf(w, "%s %s  %s records, %s, %s\n", green("✓"), bold(r.File),
				humanize.Comma(int64(rep.Records)), humanize.Bytes(uint64(r.Size)),
				r.Elapsed.Round(time.Millisecond))
			fmt.Fprintf(w, "  strict duplicates:  %s\n", humanize.Comma(int64(rep.StrictDuplicates.Count)))
			fmt.Fprintf(w, "  partial duplicates: %s\n", humanize.Comma(int64(rep.PartialDuplicates.Count)))
			if rep.FileURL != "" {
				fmt.Fprintf(w, "  output: %s\n", rep.FileURL)
			}
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  %s %s\n", yellow("warning:"), warn)
		}
	}

	fmt.Fprintf(w, "\n%d file(s), %d failed, %s records, %s duplicates\n",
		len(results), failed(results), humanize.Comma(int64(records)), humanize.Comma(int64(dups)))
}
