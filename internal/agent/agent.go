// Package agent runs the utterance pipeline: classify, resolve geography,
// synthesize SQL, gate, execute, shape. It is the only entry point callers
// use; every failure inside the pipeline comes back as a success=false
// envelope, never as an error.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/qmuntal/stateless"

	"argochat/internal/config"
	"argochat/internal/db"
	"argochat/internal/geo"
	"argochat/internal/history"
	"argochat/internal/intent"
	"argochat/internal/logger"
	"argochat/internal/safety"
	"argochat/internal/shape"
	"argochat/internal/synth"
)

// FSM States
type FSMState stateless.State

var (
	StateIdle         FSMState = "Idle"
	StateClassifying  FSMState = "Classifying"
	StateResolving    FSMState = "Resolving"
	StateSynthesizing FSMState = "Synthesizing"
	StateGating       FSMState = "Gating"
	StateExecuting    FSMState = "Executing"
	StateShaping      FSMState = "Shaping"
	StateDone         FSMState = "Done"   // Terminal: envelope built
	StateFailed       FSMState = "Failed" // Terminal: failure envelope built
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	TriggerStart         FSMTrigger = "Start"
	TriggerClassified    FSMTrigger = "Classified"
	TriggerNarrativePath FSMTrigger = "NarrativePath" // conversational or help, no query
	TriggerResolved      FSMTrigger = "Resolved"
	TriggerSynthesized   FSMTrigger = "Synthesized"
	TriggerRetry         FSMTrigger = "Retry" // re-prompt budget left
	TriggerAccepted      FSMTrigger = "Accepted"
	TriggerExecuted      FSMTrigger = "Executed"
	TriggerShaped        FSMTrigger = "Shaped"
	TriggerFailed        FSMTrigger = "Failed"
)

const sessionPersona = "You are ArgoChat, an assistant for exploring ARGO ocean float measurements. " +
	"You answer questions about temperature, salinity, pressure, and float locations " +
	"using the local measurement database."

const conversationalReply = "Hello! Ask me about ocean float measurements, " +
	"for example \"Show me temperature data near Mumbai\" or \"average salinity at 1000 meters\"."

const helpReply = "I answer questions about ARGO ocean float data: temperatures, salinity, " +
	"pressure profiles, float positions and trajectories. Try \"Show me temperature data near Mumbai\", " +
	"\"map float locations in the Bay of Bengal\", or \"compare salinity between the Arabian Sea and the Indian Ocean\"."

// Agent wires the pipeline stages together.
type Agent struct {
	history  *history.Manager
	resolver *geo.Resolver
	synth    *synth.Synthesizer
	policy   *safety.Policy
	executor db.Executor
	cfg      config.Config
	log      *slog.Logger
}

func New(hist *history.Manager, resolver *geo.Resolver, syn *synth.Synthesizer, policy *safety.Policy, executor db.Executor, cfg config.Config) *Agent {
	return &Agent{
		history:  hist,
		resolver: resolver,
		synth:    syn,
		policy:   policy,
		executor: executor,
		cfg:      cfg,
		log:      logger.Component("agent"),
	}
}

// pipe is the per-request pipeline context threaded through the FSM.
type pipe struct {
	utterance string
	context   []history.Turn

	priorIntent intent.Intent
	priorGeo    *geo.Reference

	intent      intent.Intent
	geo         *geo.Reference
	geoExpected bool

	attempts     int
	maxAttempts  int
	rejectedSQL  string
	rejectReason string

	sql          string
	rewritten    bool
	firstAttempt bool
	result       *db.Result

	failCode shape.ErrorCode
	failMsg  string

	envelope shape.Envelope
	shaped   bool
}

// HandleUtterance processes one user message in a session and returns the
// response envelope. The session is created on first use; the user turn is
// appended before any external call so that a cancellation mid-pipeline
// never loses user-visible history.
func (a *Agent) HandleUtterance(ctx context.Context, sessionID, text string) shape.Envelope {
	if _, err := a.history.EnsureSession(ctx, sessionID); err != nil {
		a.log.Error("session ensure failed", "session_id", sessionID, "error", err)
		return a.internalFailure()
	}

	// prior turns only; the current utterance goes into the prompt's own
	// USER QUERY section
	turns, err := a.history.Context(ctx, sessionID, a.cfg.Context.MaxSessionTokens)
	if err != nil {
		a.log.Error("context fetch failed", "session_id", sessionID, "error", err)
		turns = nil
	} else if len(turns) == 0 {
		// first utterance of this session, whether the id was just minted
		// or the session was pre-created without any turns
		if _, err := a.history.Append(ctx, sessionID, history.RoleSystem, sessionPersona, nil); err != nil {
			a.log.Error("system turn append failed", "session_id", sessionID, "error", err)
		}
	}

	if _, err := a.history.Append(ctx, sessionID, history.RoleUser, text, nil); err != nil {
		a.log.Error("user turn append failed", "session_id", sessionID, "error", err)
		return a.internalFailure()
	}

	p := &pipe{
		utterance:   text,
		context:     turns,
		maxAttempts: 1 + a.cfg.Safety.RepromptAttempts,
	}
	p.priorIntent, p.priorGeo = priorState(turns)

	env := a.run(ctx, p)

	payload, err := json.Marshal(env)
	if err != nil {
		a.log.Error("envelope marshal failed", "session_id", sessionID, "error", err)
		payload = nil
	}
	if _, err := a.history.Append(ctx, sessionID, history.RoleAssistant, env.Summary, payload); err != nil {
		a.log.Error("assistant turn append failed", "session_id", sessionID, "error", err)
	}
	return env
}

// priorState recovers the previous turn's intent and geography from the
// most recent assistant envelope, so short follow-ups can inherit them.
func priorState(turns []history.Turn) (intent.Intent, *geo.Reference) {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Role != history.RoleAssistant || len(t.Payload) == 0 {
			continue
		}
		var env shape.Envelope
		if err := json.Unmarshal(t.Payload, &env); err != nil {
			continue
		}
		return env.Intent, env.Geo
	}
	return intent.None, nil
}

func (a *Agent) internalFailure() shape.Envelope {
	return shape.Failure(intent.Conversational, shape.ErrInternal, "internal error")
}

// run drives the pipeline state machine to a terminal state and returns
// the envelope it produced.
func (a *Agent) run(ctx context.Context, p *pipe) shape.Envelope {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerStart, StateClassifying)

	// State: Classifying
	// Action: label the utterance, with follow-up inheritance from the
	// prior assistant turn.
	// Transitions: Classified -> Resolving; NarrativePath -> Shaping.
	fsm.Configure(StateClassifying).
		OnEntry(func(ctx context.Context, _ ...any) error {
			p.intent = intent.Classify(p.utterance, p.priorIntent)
			a.log.Debug("utterance classified", "intent", p.intent, "prior", p.priorIntent)
			if p.intent == intent.Conversational || p.intent == intent.Help {
				return fsm.FireCtx(ctx, TriggerNarrativePath)
			}
			return fsm.FireCtx(ctx, TriggerClassified)
		}).
		Permit(TriggerClassified, StateResolving).
		Permit(TriggerNarrativePath, StateShaping)

	// State: Resolving
	// Action: resolve a mentioned place, or reuse the prior turn's one for
	// a follow-up. Resolution failure is not fatal: the query proceeds
	// without a geographic filter and the envelope is flagged.
	fsm.Configure(StateResolving).
		OnEntry(func(ctx context.Context, _ ...any) error {
			phrase, found := geo.ExtractPhrase(p.utterance)
			switch {
			case found:
				p.geoExpected = true
				ref, err := a.resolver.Resolve(ctx, phrase)
				if err != nil {
					a.log.Info("location not resolved", "phrase", phrase, "error", err)
				} else {
					p.geo = ref
				}
			case p.priorGeo != nil && intent.DataBearing(p.intent):
				// follow-up like "now show salinity" keeps the prior area
				p.geo = p.priorGeo
				a.log.Debug("reusing prior location", "name", p.priorGeo.Name)
			}
			return fsm.FireCtx(ctx, TriggerResolved)
		}).
		Permit(TriggerResolved, StateSynthesizing)

	// State: Synthesizing
	// Action: ask the oracle for a statement. Oracle errors consume the
	// re-prompt budget before becoming SynthesisFailed.
	fsm.Configure(StateSynthesizing).
		PermitReentry(TriggerRetry).
		OnEntry(func(ctx context.Context, _ ...any) error {
			p.attempts++
			sql, err := a.synth.Synthesize(ctx, synth.Request{
				Utterance:       p.utterance,
				Intent:          p.intent,
				Geo:             p.geo,
				Context:         p.context,
				RejectedSQL:     p.rejectedSQL,
				RejectionReason: p.rejectReason,
			})
			if err != nil {
				a.log.Warn("synthesis failed", "attempt", p.attempts, "error", err)
				if p.attempts < p.maxAttempts {
					return fsm.FireCtx(ctx, TriggerRetry)
				}
				p.failCode = shape.ErrSynthesisFailed
				p.failMsg = "could not generate a query for this question"
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			p.sql = sql
			return fsm.FireCtx(ctx, TriggerSynthesized)
		}).
		Permit(TriggerSynthesized, StateGating).
		Permit(TriggerFailed, StateFailed)

	// State: Gating
	// Action: allow-list check. A rejection with budget left re-prompts
	// the oracle with the reason; otherwise the turn fails terminally.
	fsm.Configure(StateGating).
		OnEntry(func(ctx context.Context, _ ...any) error {
			verdict, err := a.policy.Check(p.sql)
			if err != nil {
				reason := err.Error()
				if r, ok := safety.AsRejection(err); ok {
					reason = r.Reason
				}
				// the audit trail keeps the rejected statement, the
				// envelope never does
				a.log.Warn("statement rejected by safety gate",
					"sql", p.sql, "reason", reason, "attempt", p.attempts)
				if p.attempts < p.maxAttempts {
					p.rejectedSQL = p.sql
					p.rejectReason = reason
					return fsm.FireCtx(ctx, TriggerRetry)
				}
				p.failCode = shape.ErrSafetyRejected
				p.failMsg = "the generated query was rejected by the safety policy"
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			p.firstAttempt = p.attempts == 1
			p.sql = verdict.SQL
			p.rewritten = verdict.Rewritten
			return fsm.FireCtx(ctx, TriggerAccepted)
		}).
		Permit(TriggerAccepted, StateExecuting).
		Permit(TriggerRetry, StateSynthesizing).
		Permit(TriggerFailed, StateFailed)

	// State: Executing
	// Action: run the gated statement. Raw database errors stay in the
	// log; the caller sees a generic message.
	fsm.Configure(StateExecuting).
		OnEntry(func(ctx context.Context, _ ...any) error {
			result, err := a.executor.Query(ctx, p.sql)
			if err != nil {
				a.log.Error("query execution failed", "sql", p.sql, "error", err)
				p.failCode = shape.ErrExecutionFailed
				p.failMsg = "the query could not be executed"
				return fsm.FireCtx(ctx, TriggerFailed)
			}
			p.result = result
			return fsm.FireCtx(ctx, TriggerExecuted)
		}).
		Permit(TriggerExecuted, StateShaping).
		Permit(TriggerFailed, StateFailed)

	// State: Shaping
	// Action: package the envelope. Terminal via Done.
	fsm.Configure(StateShaping).
		OnEntry(func(ctx context.Context, _ ...any) error {
			switch p.intent {
			case intent.Conversational:
				p.envelope = shape.Narrative(p.intent, conversationalReply)
			case intent.Help:
				p.envelope = shape.Narrative(p.intent, helpReply)
			default:
				p.envelope = shape.Shape(shape.Input{
					Intent:       p.intent,
					ChartHint:    intent.ChartHint(p.utterance),
					Geo:          p.geo,
					GeoExpected:  p.geoExpected,
					SQL:          p.sql,
					Rewritten:    p.rewritten,
					FirstAttempt: p.firstAttempt,
					Result:       p.result,
				})
			}
			p.shaped = true
			return fsm.FireCtx(ctx, TriggerShaped)
		}).
		Permit(TriggerShaped, StateDone)

	// State: Failed
	// Action: build the failure envelope. Terminal.
	fsm.Configure(StateFailed).
		OnEntry(func(_ context.Context, _ ...any) error {
			p.envelope = shape.Failure(p.intent, p.failCode, p.failMsg)
			p.shaped = true
			return nil
		})

	started := time.Now()
	if err := fsm.FireCtx(ctx, TriggerStart); err != nil {
		a.log.Error("pipeline failed to run", "error", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		a.log.Error("pipeline state read failed", "error", err)
	}
	a.log.Info("pipeline finished",
		"state", state, "intent", p.intent, "attempts", p.attempts,
		"elapsed", time.Since(started))

	if !p.shaped {
		if ctx.Err() != nil {
			return shape.Failure(p.intent, shape.ErrSynthesisFailed, "the request was cancelled")
		}
		return a.internalFailure()
	}
	return p.envelope
}
