package shape

import (
	"fmt"
	"strings"

	"argochat/internal/db"
	"argochat/internal/geo"
	"argochat/internal/intent"
)

// Input is everything the shaper needs from the pipeline to build a
// success envelope.
type Input struct {
	Intent    intent.Intent
	ChartHint string

	Geo         *geo.Reference
	GeoExpected bool

	SQL          string
	Rewritten    bool
	FirstAttempt bool

	Result *db.Result
}

// Shape builds the envelope for an executed query. Kind selection: map
// intent with coordinate columns becomes a geo plot, visualization and
// comparison intents with at least two numeric columns become a chart,
// remaining non-empty results a table, empty results a narrative.
func Shape(in Input) Envelope {
	var rows []map[string]any
	var columns []string
	var elapsed float64
	if in.Result != nil {
		rows = in.Result.Rows
		columns = in.Result.Columns
		elapsed = in.Result.Elapsed.Seconds()
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	numeric, hasCoords := columnTraits(columns, rows)
	kind := pickKind(in.Intent, len(rows), numeric, hasCoords)

	env := Envelope{
		Success:          true,
		Kind:             kind,
		Summary:          summarize(kind, len(rows)),
		Data:             rows,
		Columns:          columns,
		SQL:              in.SQL,
		RowCount:         len(rows),
		QueryRewritten:   in.Rewritten,
		Confidence:       confidence(in, len(rows)),
		ExecutionTime:    elapsed,
		Intent:           in.Intent,
		Geo:              in.Geo,
		LocationNotFound: in.GeoExpected && in.Geo == nil,
	}
	if kind == KindChart {
		env.ChartType = in.ChartHint
	}
	return env
}

// Failure builds the envelope for a turn that could not be answered. The
// rejected or failed statement is not included; it belongs in the audit
// log, not in user-visible payloads.
func Failure(it intent.Intent, code ErrorCode, message string) Envelope {
	return Envelope{
		Success:      false,
		Kind:         KindNarrative,
		Summary:      "Sorry, I encountered an issue processing your query.",
		Data:         []map[string]any{},
		Intent:       it,
		Confidence:   Confidence{Score: 0, Tier: TierFor(0)},
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// Narrative builds the envelope for a reply that never touches the
// database, such as conversational and help responses.
func Narrative(it intent.Intent, text string) Envelope {
	return Envelope{
		Success: true,
		Kind:    KindNarrative,
		Summary: text,
		Data:    []map[string]any{},
		Intent:  it,
		Confidence: Confidence{
			Score:   1,
			Tier:    TierFor(1),
			Factors: []string{"deterministic response"},
		},
	}
}

func pickKind(it intent.Intent, rowCount, numeric int, hasCoords bool) Kind {
	if rowCount == 0 {
		return KindNarrative
	}
	switch it {
	case intent.Map:
		if hasCoords {
			return KindMap
		}
	case intent.Visualization, intent.Comparison:
		if numeric >= 2 {
			return KindChart
		}
	case intent.Conversational, intent.Help:
		return KindNarrative
	}
	return KindTable
}

func summarize(kind Kind, rowCount int) string {
	switch kind {
	case KindMap:
		return fmt.Sprintf("Showing %d geographic data points", rowCount)
	case KindChart:
		return fmt.Sprintf("Showing %d data points", rowCount)
	case KindNarrative:
		return "No matching data found. Try a wider area or fewer filters."
	default:
		return fmt.Sprintf("Showing %d data rows", rowCount)
	}
}

// columnTraits inspects the result shape: how many columns hold numbers,
// and whether both coordinate columns are present. Column labels may be
// qualified ("c.latitude"), only the last segment counts.
func columnTraits(columns []string, rows []map[string]any) (numeric int, hasCoords bool) {
	var hasLat, hasLon bool
	for _, col := range columns {
		base := col
		if idx := strings.LastIndex(base, "."); idx >= 0 {
			base = base[idx+1:]
		}
		switch strings.ToLower(base) {
		case "latitude", "lat":
			hasLat = true
		case "longitude", "lon", "lng":
			hasLon = true
		}
		if columnIsNumeric(col, rows) {
			numeric++
		}
	}
	return numeric, hasLat && hasLon
}

func columnIsNumeric(col string, rows []map[string]any) bool {
	for _, row := range rows {
		switch row[col].(type) {
		case float64, float32, int64, int32, int:
			return true
		case nil:
			continue
		default:
			return false
		}
	}
	return false
}

func confidence(in Input, rowCount int) Confidence {
	score := 0.4
	factors := []string{"gated read-only statement"}

	if in.FirstAttempt {
		score += 0.2
		factors = append(factors, "accepted on first attempt")
	}
	upper := strings.ToUpper(in.SQL)
	if strings.Contains(upper, " JOIN ") {
		score += 0.1
		factors = append(factors, "joins related tables")
	}
	if strings.Contains(upper, " WHERE ") {
		score += 0.1
		factors = append(factors, "row filter present")
	}
	if rowCount > 0 {
		score += 0.2
		factors = append(factors, fmt.Sprintf("returned %d rows", rowCount))
	} else {
		factors = append(factors, "no rows returned")
	}
	if in.GeoExpected && in.Geo == nil {
		score -= 0.2
		factors = append(factors, "location could not be resolved")
	}

	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return Confidence{Score: score, Tier: TierFor(score), Factors: factors}
}
