package perception

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"evidencelab/internal/config"
	"evidencelab/internal/logging"
	"evidencelab/internal/types"
)

// Classification is the routed reading of one user turn.
type Classification struct {
	Intent     types.Intent      `json:"intent"`
	Confidence string            `json:"confidence"`
	Rationale  string            `json:"rationale"`
	Parameters map[string]string `json:"parameters"`
	// Fallback is true when the deterministic heuristic decided the intent.
	Fallback bool   `json:"fallback"`
	CallID   string `json:"call_id,omitempty"`
}

// Parameter keys the classifier may extract.
const (
	ParamHypothesis       = "hypothesis"
	ParamAssumption       = "assumption"
	ParamProblemStatement = "problem_statement"
	ParamTopic            = "topic"
)

const classificationSystemPrompt = `You route messages in a product-research assistant.
Classify the user's message into exactly one intent:
- extraction: the user pasted raw research (interview notes, tickets, feedback) to turn into evidence
- hypothesis_test: the user wants a hypothesis checked against the evidence
- find_patterns: the user wants themes or patterns across the evidence
- stakeholder_summary: the user wants a summary to share with stakeholders
- counter_evidence: the user wants an assumption challenged or disconfirming evidence found
- confidence_assessment: the user wants to know how well-supported a problem statement is
- general_question: anything else

Respond with JSON only:
{"intent": "...", "confidence": "high|medium|low", "reasoning": "...",
 "extracted_parameters": {"hypothesis": "...", "assumption": "...", "problem_statement": "...", "topic": "..."}}
Omit parameters that do not apply.`

// IntentRouter classifies user turns into the closed intent set.
type IntentRouter struct {
	gateway *Gateway
	cfg     config.RoutingConfig
}

// NewIntentRouter creates a router on the shared gateway.
func NewIntentRouter(gateway *Gateway, cfg config.RoutingConfig) *IntentRouter {
	return &IntentRouter{gateway: gateway, cfg: cfg}
}

type classificationPayload struct {
	Intent     types.FlexString            `json:"intent"`
	Confidence types.FlexString            `json:"confidence"`
	Reasoning  types.FlexString            `json:"reasoning"`
	Parameters map[string]types.FlexString `json:"extracted_parameters"`
}

// Classify never fails: any gateway error, degraded parse or out-of-set
// intent falls back to the length heuristic.
func (r *IntentRouter) Classify(ctx context.Context, userText string, hasEvidence bool, previousAction string) Classification {
	timer := logging.StartTimer(logging.CategoryRouting, "Classify")
	defer timer.Stop()

	prev := previousAction
	if prev == "" {
		prev = "none"
	}
	evidence := "no"
	if hasEvidence {
		evidence = "yes"
	}

	prompt := fmt.Sprintf("User message:\n%s\n\nHas evidence chunks: %s\nPrevious action: %s",
		truncateRunes(userText, r.cfg.ClassificationInputLimit), evidence, prev)

	logging.RoutingDebug("classifying %d chars (evidence=%s, previous=%s)", len(userText), evidence, prev)
	res, err := r.gateway.Invoke(ctx, Invocation{
		System:      classificationSystemPrompt,
		Prompt:      prompt,
		Action:      "intent_classification",
		Context:     map[string]string{"has_evidence": evidence, "previous_action": prev},
		Temperature: r.cfg.Temperature,
		Structured:  true,
	})
	if err != nil {
		logging.RoutingWarn("classification failed, using heuristic: %v", err)
		return r.heuristic(userText, hasEvidence)
	}
	if res.Degraded() {
		logging.RoutingWarn("classification response unparseable (call %s), using heuristic", res.CallID)
		return r.heuristic(userText, hasEvidence)
	}

	var payload classificationPayload
	if note := res.DecodePartial(&payload); note != "" {
		logging.RoutingWarn("classification payload malformed: %s", note)
	}

	intent, ok := types.ParseIntent(string(payload.Intent))
	if !ok {
		logging.RoutingWarn("classifier returned unknown intent %q, using heuristic", payload.Intent)
		return r.heuristic(userText, hasEvidence)
	}

	c := Classification{
		Intent:     intent,
		Confidence: strings.ToLower(strings.TrimSpace(string(payload.Confidence))),
		Rationale:  string(payload.Reasoning),
		Parameters: make(map[string]string),
		CallID:     res.CallID,
	}
	if c.Confidence == "" {
		c.Confidence = "medium"
	}
	for k, v := range payload.Parameters {
		if s := strings.TrimSpace(string(v)); s != "" {
			c.Parameters[k] = s
		}
	}

	logging.Routing("classified as %s (%s)", c.Intent, c.Confidence)
	return c
}

// heuristic is the offline fallback: long text with no evidence yet is
// research to extract, everything else is a general question.
func (r *IntentRouter) heuristic(userText string, hasEvidence bool) Classification {
	c := Classification{
		Confidence: "low",
		Parameters: map[string]string{},
		Fallback:   true,
	}
	if !hasEvidence && utf8.RuneCountInString(userText) > r.cfg.ExtractionFallbackChars {
		c.Intent = types.IntentExtraction
		c.Rationale = "Classifier unavailable; long input with no evidence treated as research to extract"
	} else {
		c.Intent = types.IntentGeneralQuestion
		c.Rationale = "Classifier unavailable; treated as a general question"
	}
	logging.Routing("heuristic fallback chose %s", c.Intent)
	return c
}

// truncateRunes cuts s to at most n runes. n <= 0 disables truncation.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
