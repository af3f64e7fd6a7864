// Package templates renders the HTML pages of the dedupe service.
//
// Markup lives in .templ files; run `templ generate` after editing them.
package templates

//go:generate templ generate

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
	"github.com/JonMunkholm/dedupe/internal/service"
)

type summaryRow struct {
	label string
	value string
}

func summaryRows(st service.JobStatus) []summaryRow {
	rows := []summaryRow{
		{"Action", string(st.Action)},
		{"Duplicate types", st.Duplicates},
		{"File size", humanize.Bytes(uint64(st.BytesTotal))},
		{"Records", humanize.Comma(int64(st.Records))},
		{"Started", st.StartedAt.Format(time.RFC1123)},
	}
	if st.FinishedAt != nil {
		rows = append(rows, summaryRow{"Duration", st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond).String()})
	} else {
		rows = append(rows, summaryRow{"Progress", strconv.Itoa(st.Percent) + "%"})
	}
	if r := st.Report; r != nil {
		rows = append(rows,
			summaryRow{"Fields", strconv.Itoa(r.Fields)},
			summaryRow{"Strict duplicates", humanize.Comma(int64(r.StrictDuplicates.Count))},
			summaryRow{"Partial duplicates", humanize.Comma(int64(r.PartialDuplicates.Count))},
		)
	}
	return rows
}

func downloadURL(st service.JobStatus) string {
	if st.Report == nil {
		return ""
	}
	return st.Report.FileURL
}

func outputLabel(a dedupe.Action) string {
	if a == dedupe.ActionRemove {
		return "deduplicated"
	}
	return "flagged"
}
