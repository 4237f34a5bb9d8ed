// Package synth turns a classified utterance into a candidate SQL statement
// by prompting a chat-completion model. The model is untrusted: its output
// is cleaned here and still has to pass the safety gate before execution.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"argochat/internal/config"
	"argochat/internal/geo"
	"argochat/internal/history"
	"argochat/internal/intent"
	"argochat/internal/llm"
	"argochat/internal/logger"
	"argochat/internal/safety"
)

// Request carries everything one synthesis attempt depends on. RejectedSQL
// and RejectionReason are set on retry after a gate rejection.
type Request struct {
	Utterance string
	Intent    intent.Intent
	Geo       *geo.Reference
	Context   []history.Turn

	RejectedSQL     string
	RejectionReason string
}

// Synthesizer generates SQL candidates through an OpenAI-compatible model.
type Synthesizer struct {
	client      llm.Client
	policy      *safety.Policy
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	log         *slog.Logger
}

func New(client llm.Client, policy *safety.Policy, cfg config.LLMConfig) *Synthesizer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Synthesizer{
		client:      client,
		policy:      policy,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		log:         logger.Component("synth"),
	}
}

// Synthesize asks the model for a single SELECT statement answering the
// request. When a geographic reference is present, the proximity predicate
// is guaranteed to appear in the result: if the model left it out, it is
// spliced into the WHERE clause here rather than trusted to the model.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(s.policy, req)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: persona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		TopP:        0.9,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	sql := CleanSQL(resp.Choices[0].Message.Content)
	if sql == "" {
		return "", errors.New("model returned an empty statement")
	}
	if req.Geo != nil {
		ref := cyclesRef(sql)
		sql = EnsureProximity(sql, req.Geo.SQLCondition(ref+".latitude", ref+".longitude"))
	}
	s.log.Debug("synthesized statement", "sql", sql, "retry", req.RejectionReason != "")
	return sql, nil
}

// CleanSQL normalizes raw model output: markdown fences dropped, whitespace
// collapsed to single spaces, and a trailing semicolon ensured.
func CleanSQL(raw string) string {
	s := strings.ReplaceAll(raw, "```sql", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " ;", ";")
	if s != "" && !strings.HasSuffix(s, ";") {
		s += ";"
	}
	return s
}

var clausesAfterWhere = map[string]bool{
	"group":  true,
	"order":  true,
	"having": true,
	"limit":  true,
}

// tableFollowers are keywords that can directly follow a table name in a
// FROM or JOIN clause, so they are never its alias.
var tableFollowers = map[string]bool{
	"where": true, "on": true, "join": true,
	"inner": true, "left": true, "right": true, "outer": true, "cross": true,
	"group": true, "order": true, "having": true, "limit": true, "offset": true,
}

// cyclesRef returns how sql refers to the cycles table: its declared
// alias, or "cycles" when it is joined unaliased. When the statement does
// not reference cycles at all (or cannot be lexed), the prompt's
// canonical "c" alias is used and the gate's rejection feeds the mistake
// back to the model.
func cyclesRef(sql string) string {
	toks, err := safety.Lex(sql)
	if err != nil {
		return "c"
	}
	for i, t := range toks {
		if t.Kind != safety.TokenIdent {
			continue
		}
		l := strings.ToLower(t.Text)
		if l != "from" && l != "join" {
			continue
		}
		if i+1 >= len(toks) || toks[i+1].Kind != safety.TokenIdent ||
			!strings.EqualFold(toks[i+1].Text, "cycles") {
			continue
		}
		j := i + 2
		if j < len(toks) && toks[j].Kind == safety.TokenIdent && strings.EqualFold(toks[j].Text, "as") {
			j++
		}
		if j < len(toks) && toks[j].Kind == safety.TokenIdent && !tableFollowers[strings.ToLower(toks[j].Text)] {
			return toks[j].Text
		}
		return "cycles"
	}
	return "c"
}

// EnsureProximity returns sql with cond present in its top-level WHERE
// clause. A statement that already contains cond is returned unchanged; an
// existing WHERE body is wrapped in parentheses and AND-ed with cond; a
// statement without WHERE gets one inserted before GROUP BY, ORDER BY,
// HAVING, or LIMIT. Statements the lexer cannot read are returned as-is
// for the gate to reject.
func EnsureProximity(sql, cond string) string {
	if strings.Contains(sql, cond) {
		return sql
	}
	toks, err := safety.Lex(sql)
	if err != nil || len(toks) == 0 {
		return sql
	}

	end := len(sql)
	if last := toks[len(toks)-1]; last.Kind == safety.TokenSymbol && last.Text == ";" {
		end = last.Pos
	}

	whereIdx := -1
	for i, t := range toks {
		if t.Depth == 0 && t.Kind == safety.TokenIdent && strings.EqualFold(t.Text, "where") {
			whereIdx = i
			break
		}
	}

	if whereIdx == -1 {
		insert := end
		for _, t := range toks {
			if t.Depth == 0 && t.Kind == safety.TokenIdent && clausesAfterWhere[strings.ToLower(t.Text)] {
				insert = t.Pos
				break
			}
		}
		return CleanSQL(sql[:insert] + " WHERE " + cond + " " + sql[insert:])
	}

	bodyStart := toks[whereIdx].End
	bodyEnd := end
	for _, t := range toks[whereIdx+1:] {
		if t.Depth == 0 && t.Kind == safety.TokenIdent && clausesAfterWhere[strings.ToLower(t.Text)] {
			bodyEnd = t.Pos
			break
		}
	}
	body := strings.TrimSpace(sql[bodyStart:bodyEnd])
	return CleanSQL(sql[:bodyStart] + " " + cond + " AND (" + body + ") " + sql[bodyEnd:])
}
