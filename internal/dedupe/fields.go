package dedupe

import (
	"fmt"
	"strings"
)

// NoIDFieldWarning is recorded when no id column could be found.
const NoIDFieldWarning = "No 'id' field could be determined"

// defaultIDFields are tried in order when no id field is configured.
var defaultIDFields = []string{"id", "occurrenceid"}

// HeaderIndex maps lowercased field names to their column position.
// The first occurrence of a name wins.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a case-insensitive index over header.
func MakeHeaderIndex(header Header) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := idx[key]; !ok {
			idx[key] = i
		}
	}
	return idx
}

// Lookup returns the position of name, ignoring case.
func (h HeaderIndex) Lookup(name string) (int, bool) {
	pos, ok := h[strings.ToLower(strings.TrimSpace(name))]
	return pos, ok
}

// Positions holds the resolved column positions for a job.
type Positions struct {
	// Partial holds locality, scientific name, recorder, date. Valid only if HasPartial.
	Partial    [4]int
	HasPartial bool
	// ID is the id column. Valid only if HasID.
	ID      int
	HasID   bool
	IDField string
}

// ResolveFields maps the job's configured fields to header positions.
// Warnings are returned for non-fatal degradations (no id column).
func ResolveFields(header Header, job Job) (Positions, []string, error) {
	var pos Positions
	var warnings []string

	if len(header) <= 1 {
		return pos, nil, ConfigError(CodeSingleColumn, "Wrong 'Content-Type' header",
			"The system ended up with 1-field rows. Please check the 'Content-Type' parameter")
	}

	idx := MakeHeaderIndex(header)

	if job.Duplicates.Partial {
		var missing []string
		for i, name := range job.Fields.WithDefaults().names() {
			p, ok := idx.Lookup(name)
			if !ok {
				missing = append(missing, name)
				continue
			}
			pos.Partial[i] = p
		}
		if len(missing) > 0 {
			return Positions{}, nil, ConfigError(CodeMissingFields, "Missing fields for partial duplicate detection",
				fmt.Sprintf("Couldn't find field(s) %s", quoteList(missing)))
		}
		pos.HasPartial = true
	}

	if job.IDField != "" {
		p, ok := idx.Lookup(job.IDField)
		if !ok {
			return Positions{}, nil, ConfigError(CodeIDFieldNotFound,
				fmt.Sprintf("Couldn't find field '%s'", job.IDField), "")
		}
		pos.ID, pos.HasID, pos.IDField = p, true, job.IDField
		return pos, warnings, nil
	}

	for _, name := range defaultIDFields {
		if p, ok := idx.Lookup(name); ok {
			pos.ID, pos.HasID, pos.IDField = p, true, header[p]
			return pos, warnings, nil
		}
	}

	warnings = append(warnings, NoIDFieldWarning)
	return pos, warnings, nil
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return strings.Join(quoted, ", ")
}
