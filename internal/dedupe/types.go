package dedupe

import (
	"fmt"
	"strings"
)

// Action selects what the job emits besides the report.
type Action string

const (
	ActionReport Action = "report"
	ActionFlag   Action = "flag"
	ActionRemove Action = "remove"
)

// ParseAction validates an action name. An empty name yields the default (flag).
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionFlag, nil
	case ActionReport, ActionFlag, ActionRemove:
		return a, nil
	}
	return "", &Error{
		Kind:    KindConfiguration,
		Code:    CodeUnsupportedAction,
		Message: "Action not allowed",
		Detail:  fmt.Sprintf("Action %s is not valid. Should be one of: report, flag, remove", s),
	}
}

// WritesOutput reports whether the action produces an output artifact.
func (a Action) WritesOutput() bool {
	return a == ActionFlag || a == ActionRemove
}

// Tier is one of the two independent duplicate-detection mechanisms.
type Tier string

const (
	TierStrict  Tier = "strict"
	TierPartial Tier = "partial"
)

// DuplicateTypes is the set of tiers a job checks.
type DuplicateTypes struct {
	Strict  bool
	Partial bool
}

// AllDuplicateTypes enables both tiers.
var AllDuplicateTypes = DuplicateTypes{Strict: true, Partial: true}

// ParseDuplicateTypes accepts "strict", "partial", "all" or a comma-separated
// combination. An empty value means all.
func ParseDuplicateTypes(s string) (DuplicateTypes, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AllDuplicateTypes, nil
	}

	var dt DuplicateTypes
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "strict":
			dt.Strict = true
		case "partial":
			dt.Partial = true
		case "all":
			dt.Strict, dt.Partial = true, true
		default:
			return DuplicateTypes{}, &Error{
				Kind:    KindConfiguration,
				Code:    CodeUnsupportedDuplicates,
				Message: "Duplicate detection type not allowed",
				Detail:  fmt.Sprintf("Value of 'duplicates' parameter %s is not valid. Should be one of: strict, partial, all", s),
			}
		}
	}
	return dt, nil
}

// String renders the set in the form accepted by ParseDuplicateTypes.
func (d DuplicateTypes) String() string {
	switch {
	case d.Strict && d.Partial:
		return "all"
	case d.Strict:
		return "strict"
	case d.Partial:
		return "partial"
	}
	return ""
}

// List returns the enabled tiers in check order.
func (d DuplicateTypes) List() []string {
	var out []string
	if d.Strict {
		out = append(out, string(TierStrict))
	}
	if d.Partial {
		out = append(out, string(TierPartial))
	}
	return out
}

// Default names of the fields used for partial duplicate detection.
const (
	DefaultLocalityField       = "locality"
	DefaultScientificNameField = "scientificName"
	DefaultRecordedByField     = "recordedBy"
	DefaultEventDateField      = "eventDate"
)

// PartialFields names the columns that make up a partial key, in key order.
type PartialFields struct {
	Locality       string `yaml:"locality" json:"locality"`
	ScientificName string `yaml:"scientificName" json:"scientificName"`
	RecordedBy     string `yaml:"recordedBy" json:"recordedBy"`
	EventDate      string `yaml:"eventDate" json:"eventDate"`
}

// DefaultPartialFields returns the Darwin Core names used when no override is given.
func DefaultPartialFields() PartialFields {
	return PartialFields{
		Locality:       DefaultLocalityField,
		ScientificName: DefaultScientificNameField,
		RecordedBy:     DefaultRecordedByField,
		EventDate:      DefaultEventDateField,
	}
}

// WithDefaults fills empty names from DefaultPartialFields.
func (p PartialFields) WithDefaults() PartialFields {
	d := DefaultPartialFields()
	if p.Locality == "" {
		p.Locality = d.Locality
	}
	if p.ScientificName == "" {
		p.ScientificName = d.ScientificName
	}
	if p.RecordedBy == "" {
		p.RecordedBy = d.RecordedBy
	}
	if p.EventDate == "" {
		p.EventDate = d.EventDate
	}
	return p
}

func (p PartialFields) names() [4]string {
	return [4]string{p.Locality, p.ScientificName, p.RecordedBy, p.EventDate}
}

// Job identifies one classification run.
type Job struct {
	// ID is the isolation key. Every cache and storage call is scoped by it.
	ID         string
	Duplicates DuplicateTypes
	Action     Action
	Delimiter  rune
	Fields     PartialFields
	// IDField is optional; when empty "id" then "occurrenceid" are tried.
	IDField string
}

// Header is the ordered list of field names from the first input row.
type Header []string

// Record is one data row with its 1-based position in the job.
type Record struct {
	Index  int
	Values []string
}

// value returns the value at pos, or "" when the row is shorter than the header.
func (r Record) value(pos int) string {
	if pos < 0 || pos >= len(r.Values) {
		return ""
	}
	return r.Values[pos]
}

// Status is the per-record classification outcome.
type Status int

const (
	Unique Status = iota
	StrictDuplicate
	PartialDuplicate
)

func (s Status) String() string {
	switch s {
	case StrictDuplicate:
		return "strict"
	case PartialDuplicate:
		return "partial"
	}
	return "unique"
}

// Classification is the result of classifying one record.
type Classification struct {
	Status Status
	// Original is the index of the first record with the same key. Zero for Unique.
	Original int
}

// IsDuplicate reports whether the record matched an earlier record.
func (c Classification) IsDuplicate() bool {
	return c.Status != Unique
}
