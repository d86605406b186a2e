// Package session runs conversation turns against an evidence session.
//
// One turn is one synchronous pipeline:
//
//	user text → IntentRouter → pipeline / analysis / narrative → LocalStore → SessionView
//
// Turns for the same session are serialized; different sessions may run in
// parallel.
package session

import (
	"context"
	"fmt"
	"sync"

	"evidencelab/internal/analysis"
	"evidencelab/internal/articulation"
	"evidencelab/internal/config"
	"evidencelab/internal/extraction"
	"evidencelab/internal/logging"
	"evidencelab/internal/perception"
	"evidencelab/internal/store"
	"evidencelab/internal/transparency"
	"evidencelab/internal/types"
	"evidencelab/internal/usage"

	"golang.org/x/sync/semaphore"
)

// Engine owns the current session and the components a turn is routed to.
type Engine struct {
	store     *store.LocalStore
	gateway   *perception.Gateway
	router    *perception.IntentRouter
	pipeline  *extraction.Pipeline
	analysis  *analysis.Engine
	narrative *articulation.Generator
	cfg       *config.Config

	mu      sync.Mutex
	current int64
	locks   map[int64]*semaphore.Weighted
}

// NewEngine wires every component onto the one gateway.
func NewEngine(st *store.LocalStore, gateway *perception.Gateway, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Engine{
		store:     st,
		gateway:   gateway,
		router:    perception.NewIntentRouter(gateway, cfg.Routing),
		pipeline:  extraction.NewPipeline(gateway, cfg.Validation),
		analysis:  analysis.NewEngine(gateway, cfg.Confidence),
		narrative: articulation.NewGenerator(gateway),
		cfg:       cfg,
		locks:     make(map[int64]*semaphore.Weighted),
	}
}

// Gateway exposes the call log for transparency views.
func (e *Engine) Gateway() *perception.Gateway { return e.gateway }

// Store exposes the session store.
func (e *Engine) Store() *store.LocalStore { return e.store }

// TurnResult is everything a presentation layer needs after one turn.
type TurnResult struct {
	SessionID      int64                        `json:"session_id"`
	Classification perception.Classification    `json:"classification"`
	ActionType     string                       `json:"action_type,omitempty"`
	Reply          string                       `json:"reply"`
	Reasoning      []string                     `json:"reasoning,omitempty"`
	Output         *types.Output                `json:"output,omitempty"`
	Failure        *transparency.ClassifiedError `json:"-"`
	View           *types.SessionView           `json:"view"`
}

// Failed reports whether the turn ended in a translated error.
func (r *TurnResult) Failed() bool { return r.Failure != nil }

// outcome is what a handler produces before persistence.
type outcome struct {
	reply      string
	actionType string
	reasoning  []string
	output     *types.Output
}

// =============================================================================
// CURRENT SESSION
// =============================================================================

// Current returns the current session ID, 0 when none is selected.
func (e *Engine) Current() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// EnsureSession returns the current session, creating one if none is set.
func (e *Engine) EnsureSession(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != 0 {
		return e.current, nil
	}
	sess, err := e.store.CreateSession(ctx, "", "")
	if err != nil {
		return 0, err
	}
	e.current = sess.ID
	logging.Session("Started session %d", sess.ID)
	return sess.ID, nil
}

// Use makes an existing session current.
func (e *Engine) Use(ctx context.Context, id int64) (*types.Session, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.SessionActive {
		logging.SessionWarn("resuming %s session %d", sess.Status, sess.ID)
	}
	e.mu.Lock()
	e.current = sess.ID
	e.mu.Unlock()
	return sess, nil
}

// Reset archives the current session (if any) and starts a new one.
func (e *Engine) Reset(ctx context.Context, title, opportunity string) (*types.Session, error) {
	for {
		e.mu.Lock()
		cur := e.current
		e.mu.Unlock()

		// Wait out any turn still running against the session being archived.
		var sem *semaphore.Weighted
		if cur != 0 {
			sem = e.lockFor(cur)
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
		}
		sess, done, err := e.resetFrom(ctx, cur, title, opportunity)
		if sem != nil {
			sem.Release(1)
		}
		if done || err != nil {
			return sess, err
		}
	}
}

// resetFrom archives cur and starts a new session. It reports false when
// the current session changed while the caller waited for cur's lock.
func (e *Engine) resetFrom(ctx context.Context, cur int64, title, opportunity string) (*types.Session, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != cur {
		return nil, false, nil
	}
	if cur != 0 {
		if err := e.store.ArchiveSession(ctx, cur); err != nil {
			return nil, true, fmt.Errorf("failed to archive session %d: %w", cur, err)
		}
	}
	sess, err := e.store.CreateSession(ctx, title, opportunity)
	if err != nil {
		return nil, true, err
	}
	logging.Session("Reset: session %d archived, session %d started", cur, sess.ID)
	e.current = sess.ID
	e.gateway.ClearLog()
	return sess, true, nil
}

// lockFor returns the per-session turn semaphore.
func (e *Engine) lockFor(id int64) *semaphore.Weighted {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		e.locks[id] = sem
	}
	return sem
}

// =============================================================================
// TURNS
// =============================================================================

// HandleTurn classifies userText, routes it, persists both sides of the
// conversation and returns the refreshed session view. Provider failures do
// not return an error: they become a persisted assistant message and
// TurnResult.Failure. The returned error is reserved for store failures.
func (e *Engine) HandleTurn(ctx context.Context, userText string) (*TurnResult, error) {
	return e.runTurn(ctx, userText, func(ctx context.Context, t *turn) (*outcome, error) {
		prev := lastAssistantAction(t.view.Messages)
		t.result.Classification = e.router.Classify(ctx, userText, t.view.HasEvidence(), prev)
		return e.route(ctx, t, userText)
	})
}

// turn is the state handed to a handler.
type turn struct {
	view   *types.SessionView
	result *TurnResult
}

type handler func(ctx context.Context, t *turn) (*outcome, error)

// runTurn is the shared turn skeleton: serialize on the session, record the
// user message, run the handler, record the reply, reload the view.
func (e *Engine) runTurn(ctx context.Context, userText string, h handler) (*TurnResult, error) {
	timer := logging.StartTimer(logging.CategorySession, "Turn")
	defer timer.Stop()

	sessionID, err := e.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	sem := e.lockFor(sessionID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	ctx = usage.WithSession(ctx, sessionID)

	view, err := e.store.SessionView(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.AddMessage(ctx, sessionID, types.RoleUser, userText, "", nil); err != nil {
		return nil, err
	}

	t := &turn{view: view, result: &TurnResult{SessionID: sessionID}}
	out, herr := h(ctx, t)
	if herr != nil {
		classified := transparency.ClassifyError(herr)
		logging.SessionError("turn failed (%s): %v", classified.Category, herr)
		t.result.Failure = classified
		out = &outcome{reply: classified.TurnMessage()}
	}

	if _, err := e.store.AddMessage(ctx, sessionID, types.RoleAssistant, out.reply, out.actionType, out.reasoning); err != nil {
		return nil, err
	}
	t.result.ActionType = out.actionType
	t.result.Reply = out.reply
	t.result.Reasoning = out.reasoning
	t.result.Output = out.output

	if t.result.View, err = e.store.SessionView(ctx, sessionID); err != nil {
		return nil, err
	}
	logging.Session("turn done: session=%d intent=%s action=%s", sessionID, t.result.Classification.Intent, out.actionType)
	return t.result, nil
}

func (e *Engine) route(ctx context.Context, t *turn, userText string) (*outcome, error) {
	c := t.result.Classification
	if c.Intent.RequiresEvidence() && !t.view.HasEvidence() {
		return &outcome{reply: noEvidenceReply(c.Intent)}, nil
	}

	switch c.Intent {
	case types.IntentExtraction:
		return e.extract(ctx, t.view, userText)
	case types.IntentHypothesisTest:
		return e.testHypothesis(ctx, t.view, param(c, perception.ParamHypothesis, userText))
	case types.IntentFindPatterns:
		return e.findPatterns(ctx, t.view)
	case types.IntentStakeholderSummary:
		return e.summarize(ctx, t.view, param(c, perception.ParamTopic, ""))
	case types.IntentCounterEvidence:
		return e.counterEvidence(ctx, t.view, param(c, perception.ParamAssumption, userText))
	case types.IntentConfidenceAssessment:
		return e.assessConfidence(ctx, t.view, param(c, perception.ParamProblemStatement, userText))
	default:
		return &outcome{reply: renderGeneral(len(t.view.EvidenceChunks))}, nil
	}
}

func param(c perception.Classification, key, fallback string) string {
	if v, ok := c.Parameters[key]; ok && v != "" {
		return v
	}
	return fallback
}

// lastAssistantAction is the previous routed action, "" if none.
func lastAssistantAction(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleAssistant {
			return msgs[i].ActionType
		}
	}
	return ""
}

func noEvidenceReply(intent types.Intent) string {
	if intent == types.IntentHypothesisTest {
		return "I don't have any evidence yet. Please paste your research first, and then I can test hypotheses against it."
	}
	return "I don't have any evidence yet. Please paste your research first."
}
