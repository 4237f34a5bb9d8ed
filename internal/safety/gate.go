package safety

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RejectionError reports why a statement failed the allow-list check. The
// reason is safe to surface to the caller and to feed back to the
// synthesizer for a corrected attempt.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "query rejected: " + e.Reason
}

// AsRejection unwraps err as a RejectionError if it is one.
func AsRejection(err error) (*RejectionError, bool) {
	var r *RejectionError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Verdict is the outcome of a successful check. SQL carries the statement
// that may be executed, which differs from the input when the row bound
// was added or clamped.
type Verdict struct {
	SQL       string
	Rewritten bool
}

// Keywords a statement may contain without further checks. Anything not
// here, not an allow-listed table, column, alias, or function, is grounds
// for rejection. Write keywords, UNION, ATTACH and PRAGMA are absent on
// purpose.
var allowedKeywords = map[string]bool{
	"select": true, "from": true, "where": true,
	"and": true, "or": true, "not": true,
	"in": true, "between": true, "like": true, "is": true, "null": true,
	"as": true, "on": true,
	"join": true, "inner": true, "left": true, "right": true, "outer": true, "cross": true,
	"group": true, "by": true, "order": true, "having": true,
	"limit": true, "offset": true,
	"asc": true, "desc": true, "distinct": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
	"exists": true, "true": true, "false": true,
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// Check validates a statement against the policy. It returns the statement
// to execute, with the row bound appended or clamped when needed, or a
// RejectionError naming the first violation found.
func (p *Policy) Check(sql string) (Verdict, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return Verdict{}, reject("empty statement")
	}
	toks, err := Lex(sql)
	if err != nil {
		return Verdict{}, reject("%s", err.Error())
	}
	if len(toks) == 0 {
		return Verdict{}, reject("empty statement")
	}

	for i, t := range toks {
		if t.Kind == TokenSymbol && t.Text == ";" && i != len(toks)-1 {
			return Verdict{}, reject("multiple statements are not allowed")
		}
	}

	if toks[0].Kind != TokenIdent || !strings.EqualFold(toks[0].Text, "select") {
		return Verdict{}, reject("only SELECT statements are allowed")
	}

	aliases, outputAliases, err := p.collectAliases(toks)
	if err != nil {
		return Verdict{}, err
	}
	if err := p.checkIdentifiers(toks, aliases, outputAliases); err != nil {
		return Verdict{}, err
	}
	return p.enforceLimit(sql, toks)
}

// collectAliases walks FROM and JOIN clauses recording table aliases, and
// AS clauses recording output column aliases. Tables are checked against
// the allow-list as they are found.
func (p *Policy) collectAliases(toks []Token) (map[string]string, map[string]bool, error) {
	aliases := make(map[string]string)
	outputAliases := make(map[string]bool)
	for i, t := range toks {
		if t.Kind != TokenIdent {
			continue
		}
		l := strings.ToLower(t.Text)
		if l == "as" && i+1 < len(toks) && toks[i+1].Kind == TokenIdent {
			outputAliases[strings.ToLower(toks[i+1].Text)] = true
			continue
		}
		if l != "from" && l != "join" {
			continue
		}
		if i+1 >= len(toks) {
			return nil, nil, reject("missing table name after %s", strings.ToUpper(l))
		}
		nt := toks[i+1]
		if nt.Kind == TokenSymbol && nt.Text == "(" {
			return nil, nil, reject("subquery in FROM is not allowed")
		}
		if nt.Kind != TokenIdent {
			return nil, nil, reject("missing table name after %s", strings.ToUpper(l))
		}
		tbl := strings.ToLower(nt.Text)
		if allowedKeywords[tbl] {
			return nil, nil, reject("missing table name after %s", strings.ToUpper(l))
		}
		if !p.HasTable(tbl) {
			return nil, nil, reject("table not allowed: %s", nt.Text)
		}
		j := i + 2
		if j < len(toks) && toks[j].Kind == TokenIdent && strings.EqualFold(toks[j].Text, "as") {
			j++
		}
		if j < len(toks) && toks[j].Kind == TokenIdent && !allowedKeywords[strings.ToLower(toks[j].Text)] {
			aliases[strings.ToLower(toks[j].Text)] = tbl
		}
	}
	return aliases, outputAliases, nil
}

// checkIdentifiers resolves every identifier in the statement. Qualified
// references must name an allow-listed column of the resolved table, bare
// identifiers must be a known column, table, alias, or declared output
// alias, and call targets must be allow-listed functions.
func (p *Policy) checkIdentifiers(toks []Token, aliases map[string]string, outputAliases map[string]bool) error {
	i := 0
	for i < len(toks) {
		t := toks[i]
		if t.Kind != TokenIdent {
			i++
			continue
		}
		lower := strings.ToLower(t.Text)
		if allowedKeywords[lower] {
			i++
			continue
		}
		if i+1 < len(toks) && toks[i+1].Kind == TokenSymbol && toks[i+1].Text == "(" {
			if !p.HasFunction(lower) {
				return reject("function not allowed: %s", t.Text)
			}
			i++
			continue
		}
		if i+1 < len(toks) && toks[i+1].Kind == TokenSymbol && toks[i+1].Text == "." {
			table, ok := aliases[lower]
			if !ok {
				if !p.HasTable(lower) {
					return reject("unknown table or alias: %s", t.Text)
				}
				table = lower
			}
			if i+2 >= len(toks) {
				return reject("malformed column reference: %s.", t.Text)
			}
			ct := toks[i+2]
			if ct.Kind == TokenSymbol && ct.Text == "*" {
				i += 3
				continue
			}
			if ct.Kind != TokenIdent {
				return reject("malformed column reference: %s.", t.Text)
			}
			if !p.HasColumn(table, ct.Text) {
				return reject("column not allowed: %s.%s", t.Text, ct.Text)
			}
			i += 3
			continue
		}
		if p.HasTable(lower) || aliases[lower] != "" || outputAliases[lower] || p.hasAnyColumn(lower) {
			i++
			continue
		}
		return reject("identifier not allowed: %s", t.Text)
	}
	return nil
}

// enforceLimit guarantees the statement carries a row bound at or below
// MaxRows: a missing LIMIT is appended, an oversized one is clamped.
func (p *Policy) enforceLimit(sql string, toks []Token) (Verdict, error) {
	limitIdx := -1
	for i, t := range toks {
		if t.Depth == 0 && t.Kind == TokenIdent && strings.EqualFold(t.Text, "limit") {
			limitIdx = i
			break
		}
	}
	if limitIdx == -1 {
		insert := len(sql)
		if last := toks[len(toks)-1]; last.Kind == TokenSymbol && last.Text == ";" {
			insert = last.Pos
		}
		bounded := sql[:insert] + " LIMIT " + strconv.Itoa(p.MaxRows) + sql[insert:]
		return Verdict{SQL: bounded, Rewritten: true}, nil
	}

	if limitIdx+1 >= len(toks) || toks[limitIdx+1].Kind != TokenNumber {
		return Verdict{}, reject("unsupported LIMIT form")
	}
	numTok := toks[limitIdx+1]

	// only LIMIT n [OFFSET m] then end-of-statement may follow: anything
	// else (an arithmetic expression, a comma form) makes the database
	// evaluate a bound other than the literal checked here
	rest := toks[limitIdx+2:]
	if len(rest) > 0 && rest[0].Kind == TokenIdent && strings.EqualFold(rest[0].Text, "offset") {
		if len(rest) < 2 || rest[1].Kind != TokenNumber {
			return Verdict{}, reject("unsupported LIMIT form")
		}
		rest = rest[2:]
	}
	switch {
	case len(rest) == 0:
	case len(rest) == 1 && rest[0].Kind == TokenSymbol && rest[0].Text == ";":
	default:
		return Verdict{}, reject("unsupported LIMIT form")
	}

	n, err := strconv.Atoi(numTok.Text)
	if err != nil {
		return Verdict{}, reject("unsupported LIMIT form")
	}
	if n > p.MaxRows {
		clamped := sql[:numTok.Pos] + strconv.Itoa(p.MaxRows) + sql[numTok.End:]
		return Verdict{SQL: clamped, Rewritten: true}, nil
	}
	return Verdict{SQL: sql, Rewritten: false}, nil
}
