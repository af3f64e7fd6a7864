package dedupe

import (
	"encoding/json"
	"fmt"
)

// IndexPair links a duplicate record to the first record with the same key.
type IndexPair struct {
	Original  int
	Duplicate int
}

// MarshalJSON encodes the pair as a two-element array.
func (p IndexPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Original, p.Duplicate})
}

// UnmarshalJSON decodes a two-element array.
func (p *IndexPair) UnmarshalJSON(data []byte) error {
	var v [2]int
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("index pair: %w", err)
	}
	p.Original, p.Duplicate = v[0], v[1]
	return nil
}

// TierReport summarizes one duplicate tier.
// IndexPairs is ordered by duplicate index; IDs by first encounter.
type TierReport struct {
	Count      int         `json:"count"`
	IndexPairs []IndexPair `json:"index_pairs,omitempty"`
	IDs        []string    `json:"ids,omitempty"`
}

// Report is the final result of a job.
type Report struct {
	Records           int        `json:"records"`
	Fields            int        `json:"fields"`
	Warnings          []string   `json:"warnings,omitempty"`
	StrictDuplicates  TierReport `json:"strict_duplicates"`
	PartialDuplicates TierReport `json:"partial_duplicates"`
	FileURL           string     `json:"file_url,omitempty"`
}

// Duplicates returns the total number of duplicate records in both tiers.
func (r *Report) Duplicates() int {
	return r.StrictDuplicates.Count + r.PartialDuplicates.Count
}

// tierAccumulator collects one tier's findings.
type tierAccumulator struct {
	count   int
	pairs   []IndexPair
	ids     []string
	seenIDs map[string]struct{}
}

func (t *tierAccumulator) add(pair IndexPair, id string, trackID bool) {
	t.count++
	t.pairs = append(t.pairs, pair)
	if !trackID {
		return
	}
	if t.seenIDs == nil {
		t.seenIDs = make(map[string]struct{})
	}
	if _, ok := t.seenIDs[id]; ok {
		return
	}
	t.seenIDs[id] = struct{}{}
	t.ids = append(t.ids, id)
}

func (t *tierAccumulator) report(trackID bool) TierReport {
	tr := TierReport{Count: t.count}
	if t.count == 0 {
		return tr
	}
	tr.IndexPairs = t.pairs
	if trackID {
		tr.IDs = t.ids
	}
	return tr
}

// Aggregator accumulates counts, index pairs and id sets over a scan.
type Aggregator struct {
	fields   int
	records  int
	warnings []string
	idPos    int
	trackID  bool
	strict   tierAccumulator
	partial  tierAccumulator
}

// NewAggregator creates an aggregator for a header of the given width.
func NewAggregator(fields int, pos Positions) *Aggregator {
	return &Aggregator{
		fields:  fields,
		idPos:   pos.ID,
		trackID: pos.HasID,
	}
}

// Warn appends a warning in encounter order.
func (a *Aggregator) Warn(msg string) {
	a.warnings = append(a.warnings, msg)
}

// Warnings returns a copy of the warnings recorded so far.
func (a *Aggregator) Warnings() []string {
	return append([]string(nil), a.warnings...)
}

// Records returns the number of records seen so far.
func (a *Aggregator) Records() int { return a.records }

// Add accounts for one classified record.
func (a *Aggregator) Add(r Record, c Classification) {
	a.records++
	pair := IndexPair{Original: c.Original, Duplicate: r.Index}
	switch c.Status {
	case StrictDuplicate:
		a.strict.add(pair, r.value(a.idPos), a.trackID)
	case PartialDuplicate:
		a.partial.add(pair, r.value(a.idPos), a.trackID)
	}
}

// Report assembles the final report. fileURL is empty when no artifact exists.
func (a *Aggregator) Report(fileURL string) *Report {
	return &Report{
		Records:           a.records,
		Fields:            a.fields,
		Warnings:          a.Warnings(),
		StrictDuplicates:  a.strict.report(a.trackID),
		PartialDuplicates: a.partial.report(a.trackID),
		FileURL:           fileURL,
	}
}
