package safety

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLex_TokensAndDepth(t *testing.T) {
	toks, err := Lex("SELECT AVG(p.depth) FROM profiles p WHERE p.depth >= 1000.5")
	require.NoError(t, err)

	var texts []string
	for _, tok := range toks {
		texts = append(texts, tok.Text)
	}
	require.Equal(t, []string{
		"SELECT", "AVG", "(", "p", ".", "depth", ")",
		"FROM", "profiles", "p", "WHERE", "p", ".", "depth", ">=", "1000.5",
	}, texts)

	// tokens inside the call are one level deep, the parens themselves are not
	require.Equal(t, 0, toks[2].Depth)
	require.Equal(t, 1, toks[3].Depth)
	require.Equal(t, 1, toks[5].Depth)
	require.Equal(t, 0, toks[6].Depth)
	require.Equal(t, TokenNumber, toks[len(toks)-1].Kind)
}

func TestLex_StringEscapes(t *testing.T) {
	toks, err := Lex("SELECT 'O''Brien', 'plain'")
	require.NoError(t, err)
	require.Len(t, toks, 4)
	require.Equal(t, TokenString, toks[1].Kind)
	require.Equal(t, "'O''Brien'", toks[1].Text)
	require.Equal(t, "'plain'", toks[3].Text)
}

func TestLex_QuotedIdentifier(t *testing.T) {
	toks, err := Lex(`SELECT "float_id" FROM floats`)
	require.NoError(t, err)
	require.Equal(t, TokenIdent, toks[1].Kind)
	require.Equal(t, "float_id", toks[1].Text)
}

func TestLex_Rejects(t *testing.T) {
	cases := []struct {
		name string
		sql  string
	}{
		{name: "line comment", sql: "SELECT 1 -- x"},
		{name: "block comment", sql: "SELECT /* x */ 1"},
		{name: "unterminated string", sql: "SELECT 'oops"},
		{name: "unbalanced open", sql: "SELECT (1"},
		{name: "unbalanced close", sql: "SELECT 1)"},
		{name: "stray character", sql: "SELECT 1 $ 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Lex(tc.sql)
			require.Error(t, err)
		})
	}
}

func TestLex_OffsetsSpliceCleanly(t *testing.T) {
	sql := "SELECT float_id FROM floats LIMIT 2500"
	toks, err := Lex(sql)
	require.NoError(t, err)

	last := toks[len(toks)-1]
	require.Equal(t, "2500", sql[last.Pos:last.End])
}
