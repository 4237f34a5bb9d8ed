package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"argochat/internal/geo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "argo.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed loads two floats: one cycling in the Arabian Sea off Mumbai, one in
// the Tasman Sea, with a few profile points each.
func seed(t *testing.T, s *Store) {
	t.Helper()
	stmts := []string{
		`INSERT INTO floats VALUES
			('5904471', '5904471', 'ARGO', 'Wong', 'APEX', '2019-04-02T00:00:00Z', '2023-06-01T00:00:00Z'),
			('2902746', '2902746', 'ARGO', 'Ravichandran', 'NAVIS_A', '2020-11-20T00:00:00Z', '2023-06-10T00:00:00Z')`,
		`INSERT INTO cycles VALUES
			('2902746_001', '2902746', 1, '2023-03-15T00:00:00Z', 18.90, 72.60, 'A'),
			('2902746_002', '2902746', 2, '2023-03-25T00:00:00Z', 18.75, 72.40, 'A'),
			('5904471_118', '5904471', 118, '2023-04-02T00:00:00Z', -33.87, 151.21, 'A')`,
		`INSERT INTO profiles VALUES
			('2902746_001_0', '2902746_001', 5.1, 28.4, 35.2, 5.0, 1),
			('2902746_001_1', '2902746_001', 1008.2, 7.9, 34.9, 1000.0, 2),
			('2902746_002_0', '2902746_002', 5.3, 28.1, 35.1, 5.2, 1),
			('5904471_118_0', '5904471_118', 4.8, 19.2, 35.5, 4.7, 1),
			('5904471_118_1', '5904471_118', 1511.0, NULL, 34.6, 1498.0, 1)`,
	}
	for _, stmt := range stmts {
		_, err := s.db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestQuery_RowsAsMaps(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	res, err := s.Query(context.Background(), "SELECT float_id, project_name FROM floats ORDER BY float_id")
	require.NoError(t, err)
	require.Equal(t, []string{"float_id", "project_name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "2902746", res.Rows[0]["float_id"])
	require.Equal(t, "ARGO", res.Rows[0]["project_name"])
	require.Equal(t, "5904471", res.Rows[1]["float_id"])
	require.Greater(t, res.Elapsed, time.Duration(0))
}

func TestQuery_ProximityPredicate(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	ref := &geo.Reference{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777, RadiusKm: 500}
	query := "SELECT cycle_id FROM cycles WHERE " +
		ref.SQLCondition("latitude", "longitude") + " ORDER BY cycle_id"

	res, err := s.Query(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "2902746_001", res.Rows[0]["cycle_id"])
	require.Equal(t, "2902746_002", res.Rows[1]["cycle_id"])
}

func TestQuery_JoinAcrossTables(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	res, err := s.Query(context.Background(),
		"SELECT p.temperature, p.depth, c.profile_date FROM profiles p "+
			"JOIN cycles c ON p.cycle_id = c.cycle_id "+
			"JOIN floats f ON c.float_id = f.float_id "+
			"WHERE f.float_id = '5904471' AND p.temperature IS NOT NULL "+
			"ORDER BY c.profile_date, p.depth")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Equal(t, 19.2, res.Rows[0]["temperature"])
	require.Equal(t, "2023-04-02T00:00:00Z", res.Rows[0]["profile_date"])
}

func TestQuery_EmptyResultIsNotNil(t *testing.T) {
	s := openTestStore(t)

	res, err := s.Query(context.Background(), "SELECT float_id FROM floats")
	require.NoError(t, err)
	require.NotNil(t, res.Rows)
	require.Empty(t, res.Rows)
	require.Equal(t, []string{"float_id"}, res.Columns)
}

func TestQuery_InvalidStatement(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Query(context.Background(), "SELECT missing_column FROM floats")
	require.Error(t, err)
	require.Contains(t, err.Error(), "execute query")
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	seed(t, s)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, []TableCount{
		{Table: "floats", Rows: 2},
		{Table: "cycles", Rows: 3},
		{Table: "profiles", Rows: 5},
	}, st.Tables)
	require.Equal(t, "2023-03-15T00:00:00Z", st.EarliestProfile)
	require.Equal(t, "2023-04-02T00:00:00Z", st.LatestProfile)
}
