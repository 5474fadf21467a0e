// Package domain holds the shared vocabulary of clonecore: the canonical
// contig column names, diagnostic records and the error taxonomy returned by
// metadata updates.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical contig-level column names.
const (
	ColumnSequenceID      = "sequence_id"
	ColumnCellID          = "cell_id"
	ColumnLocus           = "locus"
	ColumnProductive      = "productive"
	ColumnVCall           = "v_call"
	ColumnVCallGenotyped  = "v_call_genotyped"
	ColumnDCall           = "d_call"
	ColumnJCall           = "j_call"
	ColumnCCall           = "c_call"
	ColumnUMICount        = "umi_count"
	ColumnDuplicateCount  = "duplicate_count"
	ColumnJunctionAA      = "junction_aa"
	ColumnSampleID        = "sample_id"
	DefaultCloneKey       = "clone_id"
	DefaultLocusScheme    = "ig"
	Unassigned            = "unassigned"
	Multi                 = "Multi"
	Single                = "Single"
	ValueSeparator        = "|"
	ChainSeparator        = " + "
	SingleChainSuffix     = "_only"
	DisambiguationPattern = "%s__%d"
)

// Severity captures diagnostic outcomes.
type Severity string

// Diagnostic severities. None of them abort an update; fatal conditions are
// reported as errors instead.
const (
	// SeverityWarn marks an option that was disabled or ignored.
	SeverityWarn Severity = "warn"
	// SeverityLog is informational.
	SeverityLog Severity = "log"
)

// Diagnostic codes emitted by the aggregation pipeline.
const (
	CodeSingleLocus    = "single_locus"
	CodeTypeMismatch   = "type_mismatch"
	CodeMissingCellID  = "missing_cell_id"
	CodeUnknownIsotype = "unknown_isotype"
	CodeLocusInferred  = "locus_inferred"
	CodeSlotUnreadable = "slot_unreadable"
)

// Diagnostic is a structured, non-fatal observation made while building
// metadata. Context carries flat key/value details such as the field name.
type Diagnostic struct {
	Severity Severity          `json:"severity"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
}

func (d Diagnostic) String() string {
	if len(d.Context) == 0 {
		return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Code, d.Message)
	}
	keys := make([]string, 0, len(d.Context))
	for k := range d.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+d.Context[k])
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", d.Severity, d.Code, d.Message, strings.Join(parts, ", "))
}

// Result aggregates diagnostics from one pipeline run.
type Result struct {
	Diagnostics []Diagnostic
}

// Add appends a diagnostic.
func (r *Result) Add(severity Severity, code, message string, context map[string]string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Severity: severity, Code: code, Message: message, Context: context})
}

// Merge appends diagnostics from another result.
func (r *Result) Merge(other Result) {
	if len(other.Diagnostics) == 0 {
		return
	}
	r.Diagnostics = append(r.Diagnostics, other.Diagnostics...)
}

// Has reports whether a diagnostic with the given code was recorded.
func (r Result) Has(code string) bool {
	for _, d := range r.Diagnostics {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Codes returns the recorded codes in emission order.
func (r Result) Codes() []string {
	out := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		out = append(out, d.Code)
	}
	return out
}
