package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"argochat/internal/config"
	"argochat/internal/db"
	"argochat/internal/geo"
	"argochat/internal/history"
	"argochat/internal/intent"
	"argochat/internal/safety"
	"argochat/internal/shape"
	"argochat/internal/synth"
)

type mockOracle struct {
	replies []string
	err     error
	calls   int
}

func (m *mockOracle) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.calls++
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	var reply string
	if len(m.replies) > 0 {
		reply = m.replies[len(m.replies)-1]
		if m.calls <= len(m.replies) {
			reply = m.replies[m.calls-1]
		}
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: reply}},
		},
	}, nil
}

type mockExecutor struct {
	result *db.Result
	err    error
	calls  int
	lastQ  string
}

func (m *mockExecutor) Query(_ context.Context, q string) (*db.Result, error) {
	m.calls++
	m.lastQ = q
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testConfig() config.Config {
	return config.Config{
		LLM:     config.LLMConfig{Model: "deepseek-chat", TimeoutSeconds: 5},
		Context: config.ContextConfig{MaxSessionTokens: 4000, MaxMessageTokens: 1000, MaxTurns: 20},
		Geo:     config.GeoConfig{RadiusKm: 500},
		Safety:  config.SafetyConfig{MaxRows: 1000, RepromptAttempts: 1},
	}
}

func newTestAgent(oracle *mockOracle, executor *mockExecutor) (*Agent, *history.Manager) {
	cfg := testConfig()
	hist := history.NewManager(history.NewMemoryStore(), history.Budgets{
		MaxSessionTokens: cfg.Context.MaxSessionTokens,
		MaxMessageTokens: cfg.Context.MaxMessageTokens,
		MaxTurns:         cfg.Context.MaxTurns,
	}, nil)
	policy := safety.DefaultPolicy(cfg.Safety.MaxRows)
	resolver := geo.NewResolver(nil, cfg.Geo.RadiusKm, 0.5, time.Second)
	syn := synth.New(oracle, policy, cfg.LLM)
	return New(hist, resolver, syn, policy, executor, cfg), hist
}

func coordRows() *db.Result {
	return &db.Result{
		Columns: []string{"latitude", "longitude", "temperature"},
		Rows: []map[string]any{
			{"latitude": 18.9, "longitude": 72.5, "temperature": 27.3},
			{"latitude": 19.4, "longitude": 73.1, "temperature": 26.8},
		},
	}
}

func TestHandleUtterance_TemperatureNearMumbai(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"SELECT c.latitude, c.longitude, p.temperature FROM cycles c JOIN profiles p ON p.cycle_id = c.cycle_id LIMIT 100;",
	}}
	executor := &mockExecutor{result: coordRows()}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "Show me temperature data near Mumbai")

	require.True(t, env.Success)
	require.Equal(t, intent.DataQuery, env.Intent)
	require.NotNil(t, env.Geo)
	require.Equal(t, "Mumbai", env.Geo.Name)
	require.InDelta(t, 19.0760, env.Geo.Lat, 1e-9)
	require.Equal(t, 500.0, env.Geo.RadiusKm)

	// the proximity predicate is injected structurally, not trusted to
	// the model
	require.Contains(t, executor.lastQ, "acos")
	require.Contains(t, executor.lastQ, "19.076")
	require.Contains(t, executor.lastQ, "<= 500")
	require.Equal(t, shape.KindTable, env.Kind)
	require.Equal(t, 2, env.RowCount)
	require.False(t, env.LocationNotFound)
}

func TestHandleUtterance_FollowUpInheritsIntentAndGeo(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"SELECT c.latitude, c.longitude, p.temperature FROM cycles c JOIN profiles p ON p.cycle_id = c.cycle_id LIMIT 100;",
		"SELECT c.latitude, c.longitude, p.salinity FROM cycles c JOIN profiles p ON p.cycle_id = c.cycle_id LIMIT 100;",
	}}
	executor := &mockExecutor{result: coordRows()}
	a, _ := newTestAgent(oracle, executor)

	first := a.HandleUtterance(context.Background(), "s1", "Show me temperature data near Mumbai")
	require.True(t, first.Success)

	env := a.HandleUtterance(context.Background(), "s1", "now show salinity")

	require.True(t, env.Success)
	require.Equal(t, intent.DataQuery, env.Intent)
	require.NotNil(t, env.Geo, "prior turn's location should be reused")
	require.Equal(t, "Mumbai", env.Geo.Name)
	require.Contains(t, executor.lastQ, "salinity")
	require.Contains(t, executor.lastQ, "acos")
}

func TestHandleUtterance_UnsafeStatementRejected(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"DELETE FROM floats;",
		"UPDATE floats SET pi_name = 'x';",
	}}
	executor := &mockExecutor{}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "show me temperature data from floats")

	require.False(t, env.Success)
	require.Equal(t, shape.ErrSafetyRejected, env.ErrorCode)
	require.Equal(t, 2, oracle.calls, "one re-prompt, then terminal")
	require.Zero(t, executor.calls, "rejected statements must never execute")
	require.Empty(t, env.SQL, "rejected statements never reach the envelope")
}

func TestHandleUtterance_GateRejectionRecoversOnReprompt(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"DROP TABLE floats;",
		"SELECT float_id, project_name FROM floats LIMIT 10;",
	}}
	executor := &mockExecutor{result: &db.Result{
		Columns: []string{"float_id", "project_name"},
		Rows:    []map[string]any{{"float_id": "f1", "project_name": "ARGO"}},
	}}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "list all floats data")

	require.True(t, env.Success)
	require.Equal(t, 2, oracle.calls)
	require.Equal(t, 1, executor.calls)
	require.NotContains(t, env.Factors, "accepted on first attempt")
}

func TestHandleUtterance_OracleErrorFallsBackToNarrative(t *testing.T) {
	oracle := &mockOracle{err: errors.New("upstream timeout")}
	executor := &mockExecutor{}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "show me salinity data")

	require.False(t, env.Success)
	require.Equal(t, shape.ErrSynthesisFailed, env.ErrorCode)
	require.Equal(t, shape.KindNarrative, env.Kind)
	require.Equal(t, 2, oracle.calls)
	require.Zero(t, executor.calls)
}

func TestHandleUtterance_ConversationalBypassesOracle(t *testing.T) {
	oracle := &mockOracle{}
	executor := &mockExecutor{}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "hello")

	require.True(t, env.Success)
	require.Equal(t, intent.Conversational, env.Intent)
	require.Equal(t, shape.KindNarrative, env.Kind)
	require.Zero(t, oracle.calls)
	require.Zero(t, executor.calls)
}

func TestHandleUtterance_HelpBypassesOracle(t *testing.T) {
	oracle := &mockOracle{}
	executor := &mockExecutor{}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "what can you do?")

	require.True(t, env.Success)
	require.Equal(t, intent.Help, env.Intent)
	require.Zero(t, oracle.calls)
}

func TestHandleUtterance_UnresolvedLocationFlagged(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"SELECT p.temperature FROM profiles p LIMIT 10;",
	}}
	executor := &mockExecutor{result: &db.Result{
		Columns: []string{"temperature"},
		Rows:    []map[string]any{{"temperature": 12.1}},
	}}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "show me temperature data near zzyzx")

	require.True(t, env.Success, "an unresolved location is a flag, not a failure")
	require.Nil(t, env.Geo)
	require.True(t, env.LocationNotFound)
	require.NotContains(t, executor.lastQ, "acos")
}

func TestHandleUtterance_ExecutionFailureHidesRawError(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"SELECT float_id FROM floats LIMIT 10;",
	}}
	executor := &mockExecutor{err: errors.New("SQL logic error: no such collation")}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "list all floats data")

	require.False(t, env.Success)
	require.Equal(t, shape.ErrExecutionFailed, env.ErrorCode)
	require.NotContains(t, env.ErrorMessage, "collation", "raw database errors stay in the log")
	require.NotContains(t, env.Summary, "collation")
}

func TestHandleUtterance_MissingLimitIsRewritten(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"SELECT float_id FROM floats;",
	}}
	executor := &mockExecutor{result: &db.Result{
		Columns: []string{"float_id"},
		Rows:    []map[string]any{{"float_id": "f1"}},
	}}
	a, _ := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "list all floats data")

	require.True(t, env.Success)
	require.True(t, env.QueryRewritten)
	require.Contains(t, strings.ToUpper(executor.lastQ), "LIMIT 1000")
}

func TestHandleUtterance_SessionHistoryRecordsTurns(t *testing.T) {
	oracle := &mockOracle{replies: []string{
		"SELECT float_id FROM floats LIMIT 10;",
	}}
	executor := &mockExecutor{result: &db.Result{Columns: []string{"float_id"}, Rows: []map[string]any{}}}
	a, hist := newTestAgent(oracle, executor)

	env := a.HandleUtterance(context.Background(), "s1", "list all floats data")
	require.True(t, env.Success)

	turns, err := hist.Context(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, history.RoleSystem, turns[0].Role)
	require.Equal(t, history.RoleUser, turns[1].Role)
	require.Equal(t, history.RoleAssistant, turns[2].Role)
	require.NotEmpty(t, turns[2].Payload, "assistant turn carries the envelope")
	for i, turn := range turns {
		require.Equal(t, int64(i+1), turn.Seq)
	}
}

func TestHandleUtterance_PrecreatedSessionGetsSystemTurn(t *testing.T) {
	oracle := &mockOracle{}
	executor := &mockExecutor{}
	a, hist := newTestAgent(oracle, executor)

	// session minted up front, the way the create-session endpoint does it
	created, err := hist.EnsureSession(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, created)

	env := a.HandleUtterance(context.Background(), "s1", "hello")
	require.True(t, env.Success)

	turns, err := hist.Context(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, history.RoleSystem, turns[0].Role)
	require.Equal(t, int64(1), turns[0].Seq)
}

func TestHandleUtterance_RepeatedCallsAppendRepeatedTurns(t *testing.T) {
	oracle := &mockOracle{}
	executor := &mockExecutor{}
	a, hist := newTestAgent(oracle, executor)

	a.HandleUtterance(context.Background(), "s1", "hello")
	a.HandleUtterance(context.Background(), "s1", "hello")

	turns, err := hist.Context(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 5, "no deduplication of identical utterances")
}
