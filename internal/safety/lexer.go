package safety

import "fmt"

// TokenKind classifies a lexed SQL token.
type TokenKind int

const (
	TokenIdent TokenKind = iota
	TokenNumber
	TokenString
	TokenSymbol
)

// Token is a single lexed SQL token. Pos and End are byte offsets into the
// original statement, Depth is the parenthesis nesting depth at the token.
type Token struct {
	Kind  TokenKind
	Text  string
	Pos   int
	End   int
	Depth int
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentByte(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Lex splits a SQL statement into tokens. Comments are rejected outright:
// the gate only passes statements it can fully account for, and comments
// are a classic place to hide payloads from naive filters.
func Lex(sql string) ([]Token, error) {
	var toks []Token
	depth := 0
	i := 0
	for i < len(sql) {
		b := sql[i]
		switch {
		case isSpace(b):
			i++
		case b == '-' && i+1 < len(sql) && sql[i+1] == '-':
			return nil, fmt.Errorf("comment at offset %d", i)
		case b == '/' && i+1 < len(sql) && sql[i+1] == '*':
			return nil, fmt.Errorf("comment at offset %d", i)
		case isIdentStart(b):
			start := i
			for i < len(sql) && isIdentByte(sql[i]) {
				i++
			}
			toks = append(toks, Token{Kind: TokenIdent, Text: sql[start:i], Pos: start, End: i, Depth: depth})
		case isDigit(b):
			start := i
			for i < len(sql) && isDigit(sql[i]) {
				i++
			}
			if i < len(sql) && sql[i] == '.' {
				i++
				for i < len(sql) && isDigit(sql[i]) {
					i++
				}
			}
			if i < len(sql) && (sql[i] == 'e' || sql[i] == 'E') {
				j := i + 1
				if j < len(sql) && (sql[j] == '+' || sql[j] == '-') {
					j++
				}
				if j < len(sql) && isDigit(sql[j]) {
					i = j
					for i < len(sql) && isDigit(sql[i]) {
						i++
					}
				}
			}
			toks = append(toks, Token{Kind: TokenNumber, Text: sql[start:i], Pos: start, End: i, Depth: depth})
		case b == '\'':
			start := i
			i++
			closed := false
			for i < len(sql) {
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at offset %d", start)
			}
			toks = append(toks, Token{Kind: TokenString, Text: sql[start:i], Pos: start, End: i, Depth: depth})
		case b == '"':
			start := i
			i++
			closed := false
			for i < len(sql) {
				if sql[i] == '"' {
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			toks = append(toks, Token{Kind: TokenIdent, Text: sql[start+1 : i-1], Pos: start, End: i, Depth: depth})
		case b == '(':
			toks = append(toks, Token{Kind: TokenSymbol, Text: "(", Pos: i, End: i + 1, Depth: depth})
			depth++
			i++
		case b == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parenthesis at offset %d", i)
			}
			toks = append(toks, Token{Kind: TokenSymbol, Text: ")", Pos: i, End: i + 1, Depth: depth})
			i++
		case b == '<' || b == '>' || b == '!':
			start := i
			i++
			if i < len(sql) && (sql[i] == '=' || (b == '<' && sql[i] == '>')) {
				i++
			}
			toks = append(toks, Token{Kind: TokenSymbol, Text: sql[start:i], Pos: start, End: i, Depth: depth})
		case b == '|':
			if i+1 < len(sql) && sql[i+1] == '|' {
				toks = append(toks, Token{Kind: TokenSymbol, Text: "||", Pos: i, End: i + 2, Depth: depth})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q at offset %d", b, i)
			}
		case b == ',' || b == ';' || b == '.' || b == '*' || b == '=' ||
			b == '+' || b == '-' || b == '/' || b == '%':
			toks = append(toks, Token{Kind: TokenSymbol, Text: string(b), Pos: i, End: i + 1, Depth: depth})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", b, i)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parenthesis")
	}
	return toks, nil
}
