// Package shape packages query results into the response envelope: a
// presentation kind, a display summary, and a factor-based confidence
// score with provenance metadata.
package shape

import (
	"argochat/internal/geo"
	"argochat/internal/intent"
)

// Kind tells the caller how to present the rows.
type Kind string

const (
	KindTable     Kind = "table"
	KindChart     Kind = "chart"
	KindMap       Kind = "map"
	KindNarrative Kind = "narrative"
)

// ErrorCode labels a failure envelope. Only failures that end the turn get
// a code; an unresolved location is a flag on a successful envelope, not a
// failure.
type ErrorCode string

const (
	ErrSynthesisFailed ErrorCode = "synthesis_failed"
	ErrSafetyRejected  ErrorCode = "safety_rejected"
	ErrExecutionFailed ErrorCode = "execution_failed"
	ErrInternal        ErrorCode = "internal_error"
)

// Confidence is a transparent score: every contribution is named in
// Factors so a reader can see why the score is what it is.
type Confidence struct {
	Score   float64  `json:"confidence_score"`
	Tier    string   `json:"confidence_tier"`
	Factors []string `json:"confidence_factors,omitempty"`
}

// TierFor buckets a score into a named tier.
func TierFor(score float64) string {
	switch {
	case score >= 0.95:
		return "high"
	case score >= 0.70:
		return "medium"
	case score >= 0.30:
		return "low"
	default:
		return "speculative"
	}
}

// Envelope is the response for one utterance. It is returned to the caller
// and persisted as the assistant turn's payload. A success envelope with a
// non-empty SQL carries a statement that passed the safety gate; a failure
// envelope carries an error code and never the rejected statement.
type Envelope struct {
	Success bool             `json:"success"`
	Kind    Kind             `json:"kind"`
	Summary string           `json:"summary"`
	Data    []map[string]any `json:"data"`
	Columns []string         `json:"columns,omitempty"`

	SQL            string `json:"sql_query,omitempty"`
	RowCount       int    `json:"row_count"`
	QueryRewritten bool   `json:"query_rewritten,omitempty"`

	Confidence
	ExecutionTime float64 `json:"execution_time"`

	Intent           intent.Intent  `json:"intent"`
	ChartType        string         `json:"chart_type,omitempty"`
	Geo              *geo.Reference `json:"geo,omitempty"`
	LocationNotFound bool           `json:"location_not_found,omitempty"`

	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
