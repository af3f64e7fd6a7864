package dedupe

import "strconv"

// Columns appended to every row by the flag action.
const (
	ColumnIsDuplicate   = "isDuplicate"
	ColumnDuplicateType = "duplicateType"
	ColumnDuplicateOf   = "duplicateOf"
)

// FlagColumns lists the appended columns in output order.
var FlagColumns = []string{ColumnIsDuplicate, ColumnDuplicateType, ColumnDuplicateOf}

// ActionProcessor decides what, if anything, a record contributes to the output.
type ActionProcessor struct {
	action Action
}

// NewActionProcessor creates a processor for action.
func NewActionProcessor(action Action) *ActionProcessor {
	return &ActionProcessor{action: action}
}

// OutputHeader returns the header to write before any row, or nil for report.
func (p *ActionProcessor) OutputHeader(header Header) []string {
	switch p.action {
	case ActionRemove:
		return append([]string(nil), header...)
	case ActionFlag:
		out := make([]string, 0, len(header)+len(FlagColumns))
		out = append(out, header...)
		return append(out, FlagColumns...)
	}
	return nil
}

// Process returns the row to emit and whether anything should be emitted.
func (p *ActionProcessor) Process(r Record, c Classification) ([]string, bool) {
	switch p.action {
	case ActionRemove:
		if c.IsDuplicate() {
			return nil, false
		}
		return r.Values, true
	case ActionFlag:
		out := make([]string, 0, len(r.Values)+len(FlagColumns))
		out = append(out, r.Values...)
		if !c.IsDuplicate() {
			// Null type and back-reference are written as empty cells.
			return append(out, "false", "", ""), true
		}
		return append(out, "true", c.Status.String(), strconv.Itoa(c.Original)), true
	}
	return nil, false
}
