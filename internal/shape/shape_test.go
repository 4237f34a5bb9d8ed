package shape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"argochat/internal/db"
	"argochat/internal/geo"
	"argochat/internal/intent"
)

func tableResult() *db.Result {
	return &db.Result{
		Columns: []string{"float_id", "temperature", "depth"},
		Rows: []map[string]any{
			{"float_id": "2902746", "temperature": 28.4, "depth": 5.0},
			{"float_id": "2902746", "temperature": 7.9, "depth": 1000.0},
			{"float_id": "5904471", "temperature": 19.2, "depth": 4.7},
		},
		Elapsed: 120 * time.Millisecond,
	}
}

func mapResult() *db.Result {
	return &db.Result{
		Columns: []string{"latitude", "longitude", "temperature"},
		Rows: []map[string]any{
			{"latitude": 18.90, "longitude": 72.60, "temperature": 28.4},
			{"latitude": 18.75, "longitude": 72.40, "temperature": 28.1},
		},
	}
}

func TestShape_MapIntentWithCoordinates(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.Map,
		Geo:          &geo.Reference{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777, RadiusKm: 500},
		GeoExpected:  true,
		SQL:          "SELECT c.latitude, c.longitude, p.temperature FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE p.quality_flag IN (1, 2) LIMIT 100;",
		FirstAttempt: true,
		Result:       mapResult(),
	})

	require.True(t, env.Success)
	require.Equal(t, KindMap, env.Kind)
	require.Equal(t, "Showing 2 geographic data points", env.Summary)
	require.Equal(t, 2, env.RowCount)
	require.False(t, env.LocationNotFound)
	require.NotNil(t, env.Geo)
	require.Empty(t, env.ChartType)
}

func TestShape_MapIntentWithoutCoordinatesFallsBackToTable(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.Map,
		SQL:          "SELECT float_id, temperature, depth FROM profiles LIMIT 100;",
		FirstAttempt: true,
		Result:       tableResult(),
	})
	require.Equal(t, KindTable, env.Kind)
}

func TestShape_VisualizationBecomesChart(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.Visualization,
		ChartHint:    "scatter",
		SQL:          "SELECT temperature, depth FROM profiles LIMIT 100;",
		FirstAttempt: true,
		Result: &db.Result{
			Columns: []string{"temperature", "depth"},
			Rows: []map[string]any{
				{"temperature": 28.4, "depth": 5.0},
				{"temperature": 7.9, "depth": 1000.0},
			},
		},
	})
	require.Equal(t, KindChart, env.Kind)
	require.Equal(t, "scatter", env.ChartType)
	require.Equal(t, "Showing 2 data points", env.Summary)
}

func TestShape_VisualizationWithOneNumericColumnFallsBackToTable(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.Visualization,
		ChartHint:    "line",
		SQL:          "SELECT float_id, pi_name FROM floats LIMIT 100;",
		FirstAttempt: true,
		Result: &db.Result{
			Columns: []string{"float_id", "pi_name"},
			Rows:    []map[string]any{{"float_id": "2902746", "pi_name": "Ravichandran"}},
		},
	})
	require.Equal(t, KindTable, env.Kind)
	require.Empty(t, env.ChartType)
}

func TestShape_DataQueryBecomesTable(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.DataQuery,
		SQL:          "SELECT float_id, temperature, depth FROM profiles JOIN cycles ON 1 = 1 WHERE depth > 0 LIMIT 100;",
		FirstAttempt: true,
		Result:       tableResult(),
	})
	require.Equal(t, KindTable, env.Kind)
	require.Equal(t, "Showing 3 data rows", env.Summary)
	require.Equal(t, []string{"float_id", "temperature", "depth"}, env.Columns)
	require.InDelta(t, 0.12, env.ExecutionTime, 0.0001)
}

func TestShape_ZeroRowsBecomeNarrative(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.DataQuery,
		SQL:          "SELECT float_id FROM floats WHERE pi_name = 'nobody' LIMIT 100;",
		FirstAttempt: true,
		Result:       &db.Result{Columns: []string{"float_id"}, Rows: []map[string]any{}},
	})
	require.True(t, env.Success)
	require.Equal(t, KindNarrative, env.Kind)
	require.Equal(t, 0, env.RowCount)
	require.Contains(t, env.Summary, "No matching data found")
	require.Contains(t, env.Factors, "no rows returned")
}

func TestShape_ConfidenceScoring(t *testing.T) {
	full := Shape(Input{
		Intent:       intent.DataQuery,
		SQL:          "SELECT p.temperature FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE p.depth > 0 LIMIT 100;",
		FirstAttempt: true,
		Result:       tableResult(),
	})
	require.InDelta(t, 1.0, full.Score, 0.0001)
	require.Equal(t, "high", full.Tier)
	require.Contains(t, full.Factors, "gated read-only statement")
	require.Contains(t, full.Factors, "accepted on first attempt")
	require.Contains(t, full.Factors, "joins related tables")
	require.Contains(t, full.Factors, "row filter present")
	require.Contains(t, full.Factors, "returned 3 rows")

	reprompted := Shape(Input{
		Intent:       intent.DataQuery,
		SQL:          "SELECT p.temperature FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE p.depth > 0 LIMIT 100;",
		FirstAttempt: false,
		Result:       tableResult(),
	})
	require.InDelta(t, 0.8, reprompted.Score, 0.0001)
	require.Equal(t, "medium", reprompted.Tier)
	require.NotContains(t, reprompted.Factors, "accepted on first attempt")
}

func TestShape_UnresolvedLocationFlagsAndPenalizes(t *testing.T) {
	env := Shape(Input{
		Intent:       intent.DataQuery,
		GeoExpected:  true,
		Geo:          nil,
		SQL:          "SELECT p.temperature FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE p.depth > 0 LIMIT 100;",
		FirstAttempt: true,
		Result:       tableResult(),
	})
	require.True(t, env.Success)
	require.True(t, env.LocationNotFound)
	require.InDelta(t, 0.8, env.Score, 0.0001)
	require.Contains(t, env.Factors, "location could not be resolved")
}

func TestFailure(t *testing.T) {
	env := Failure(intent.DataQuery, ErrSafetyRejected, "query rejected: only SELECT statements are allowed")
	require.False(t, env.Success)
	require.Equal(t, KindNarrative, env.Kind)
	require.Equal(t, "Sorry, I encountered an issue processing your query.", env.Summary)
	require.Equal(t, ErrSafetyRejected, env.ErrorCode)
	require.Empty(t, env.SQL)
	require.NotNil(t, env.Data)
	require.Empty(t, env.Data)
	require.Equal(t, "speculative", env.Tier)
}

func TestNarrative(t *testing.T) {
	env := Narrative(intent.Help, "I can answer questions about ocean float data.")
	require.True(t, env.Success)
	require.Equal(t, KindNarrative, env.Kind)
	require.Equal(t, "I can answer questions about ocean float data.", env.Summary)
	require.Empty(t, env.ErrorCode)
	require.InDelta(t, 1.0, env.Score, 0.0001)
}

func TestTierFor(t *testing.T) {
	require.Equal(t, "high", TierFor(0.95))
	require.Equal(t, "medium", TierFor(0.94))
	require.Equal(t, "medium", TierFor(0.70))
	require.Equal(t, "low", TierFor(0.69))
	require.Equal(t, "low", TierFor(0.30))
	require.Equal(t, "speculative", TierFor(0.29))
	require.Equal(t, "speculative", TierFor(0))
}
