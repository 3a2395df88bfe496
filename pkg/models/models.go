package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProcedureKind is the operation category of a stored procedure
type ProcedureKind string

const (
	KindGet    ProcedureKind = "Get"
	KindList   ProcedureKind = "List"
	KindSave   ProcedureKind = "Save"
	KindDelete ProcedureKind = "Delete"
	KindUpdate ProcedureKind = "Update"
	KindCreate ProcedureKind = "Create"
)

// ProcedureKinds lists every accepted kind in display order
var ProcedureKinds = []ProcedureKind{KindGet, KindList, KindSave, KindDelete, KindUpdate, KindCreate}

// ParseProcedureKind matches a kind name case-insensitively
func ParseProcedureKind(s string) (ProcedureKind, error) {
	for _, kind := range ProcedureKinds {
		if strings.EqualFold(strings.TrimSpace(s), string(kind)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("invalid procedure type %q (valid types: Get, List, Save, Delete, Update, Create)", s)
}

// IsRead reports whether the kind reads data (Get or List)
func (k ProcedureKind) IsRead() bool {
	return k == KindGet || k == KindList
}

// ProcedureRef identifies one stored procedure to process
type ProcedureRef struct {
	Name    string
	Kind    ProcedureKind
	Ordinal int
}

// ConnectionConfig holds the database connection settings
type ConnectionConfig struct {
	ConnectionString string
	Dialect          string
	ConnectTimeout   time.Duration
	CommandTimeout   time.Duration
}

// ParameterInfo describes one declared procedure parameter
type ParameterInfo struct {
	Name           string
	BaseType       string
	FullType       string
	Size           string
	Precision      *int
	Scale          *int
	Nullable       bool
	DefaultLiteral *string
	IsOutput       bool
}

// ProcedureSignature is the calling contract derived from procedure source
type ProcedureSignature struct {
	InputParams    []ParameterInfo
	OutputParams   []ParameterInfo
	HasReturnValue bool
}

// HasOutputParams reports whether any parameter is declared OUTPUT
func (s ProcedureSignature) HasOutputParams() bool {
	return len(s.OutputParams) > 0
}

// ExecutionStatus is the top-level outcome of one execution
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "Success"
	StatusError   ExecutionStatus = "Error"
)

// ErrorCategory classifies a failed execution
type ErrorCategory string

const (
	CategoryTimeout            ErrorCategory = "TIMEOUT"
	CategoryConnection         ErrorCategory = "CONNECTION"
	CategoryPermission         ErrorCategory = "PERMISSION"
	CategorySyntax             ErrorCategory = "SYNTAX"
	CategoryValidation         ErrorCategory = "VALIDATION"
	CategoryDatabase           ErrorCategory = "DATABASE_ERROR"
	CategoryUnknown            ErrorCategory = "UNKNOWN"
	CategoryMaxRetriesExceeded ErrorCategory = "MAX_RETRIES_EXCEEDED"
)

// Retryable reports whether another attempt may succeed
func (c ErrorCategory) Retryable() bool {
	return c == CategoryTimeout || c == CategoryConnection
}

// Row is one result row keyed by column name
type Row map[string]interface{}

// MarshalOrdered encodes the row with the given columns first, in order,
// followed by any remaining keys sorted by name
func (r Row) MarshalOrdered(columns []string) ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}

	keys := make([]string, 0, len(r))
	seen := make(map[string]bool, len(r))
	for _, col := range columns {
		if _, ok := r[col]; ok && !seen[col] {
			seen[col] = true
			keys = append(keys, col)
		}
	}
	var rest []string
	for key := range r {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ResultSet is one ordered batch of rows returned by a statement. Columns
// holds the cursor column order.
type ResultSet struct {
	Index   int
	Columns []string
	Rows    []Row
}

// MarshalJSON renders the set as {"ResultSet_<index>": [rows]} with row
// keys in column order
func (rs ResultSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"ResultSet_%d":[`, rs.Index)
	for i, row := range rs.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := row.MarshalOrdered(rs.Columns)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// ExecutionResult is the envelope written as the output artifact
type ExecutionResult struct {
	ExecutionStatus  ExecutionStatus
	ErrorMessage     string
	ErrorCategory    ErrorCategory
	ResultSets       []ResultSet
	OutputParameters Row
	// OutputColumns orders the OutputParameters keys
	OutputColumns []string
	Timestamp     time.Time
}

// orderedRow marshals a row in a fixed column order
type orderedRow struct {
	columns []string
	row     Row
}

func (o orderedRow) MarshalJSON() ([]byte, error) {
	return o.row.MarshalOrdered(o.columns)
}

// MarshalJSON keeps the envelope field order and the column order of
// OutputParameters
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ExecutionStatus  ExecutionStatus `json:"ExecutionStatus"`
		ErrorMessage     string          `json:"ErrorMessage,omitempty"`
		ErrorCategory    ErrorCategory   `json:"ErrorCategory,omitempty"`
		ResultSets       []ResultSet     `json:"ResultSets"`
		OutputParameters orderedRow      `json:"OutputParameters"`
		Timestamp        time.Time       `json:"Timestamp"`
	}{
		ExecutionStatus:  r.ExecutionStatus,
		ErrorMessage:     r.ErrorMessage,
		ErrorCategory:    r.ErrorCategory,
		ResultSets:       r.ResultSets,
		OutputParameters: orderedRow{columns: r.OutputColumns, row: r.OutputParameters},
		Timestamp:        r.Timestamp,
	})
}

// JSON serializes the envelope with four-space indentation
func (r *ExecutionResult) JSON() (string, error) {
	out := *r
	if out.ResultSets == nil {
		out.ResultSets = []ResultSet{}
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ProcessingResult is the outcome of processing one procedure
type ProcessingResult struct {
	Procedure       ProcedureRef
	Success         bool
	DefinitionSaved bool
	InputSaved      bool
	OutputSaved     bool
	ExecutionStatus ExecutionStatus
	ErrorMessage    string
	ElapsedSeconds  float64
}

// ProcedureError pairs a failed procedure with its error message
type ProcedureError struct {
	Procedure string `json:"sp_name"`
	Error     string `json:"error"`
}

// TimingStats aggregates per-procedure elapsed times
type TimingStats struct {
	TotalSeconds   float64 `json:"total_time_seconds"`
	AverageSeconds float64 `json:"average_time_seconds"`
	FastestSeconds float64 `json:"fastest_seconds"`
	SlowestSeconds float64 `json:"slowest_seconds"`
}

// BatchSummary represents the result of a batch run
type BatchSummary struct {
	RunID            string             `json:"run_id"`
	Success          bool               `json:"success"`
	Total            int                `json:"total_processed"`
	Successful       int                `json:"successful"`
	Failed           int                `json:"failed"`
	DefinitionsSaved int                `json:"definitions_saved"`
	InputsSaved      int                `json:"inputs_saved"`
	OutputsSaved     int                `json:"outputs_saved"`
	Errors           []ProcedureError   `json:"errors"`
	Timing           TimingStats        `json:"timing"`
	OutputDirectory  string             `json:"output_directory"`
	WallClock        time.Duration      `json:"-"`
	Results          []ProcessingResult `json:"-"`
}
