package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"evidencelab/internal/logging"

	"github.com/google/uuid"
)

// Preview limits for call records.
const (
	systemPreviewLen   = 200
	promptPreviewLen   = 500
	responsePreviewLen = 500
)

// CallStatus is the outcome of one gateway call.
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
)

// Invocation is one request to the gateway.
type Invocation struct {
	System      string
	Prompt      string
	Action      string            // operation tag, e.g. "extraction"
	Context     map[string]string // free-form attribution recorded in the call log
	Temperature float32
	Structured  bool
}

// Result is the normalized response of a successful provider call.
// When Fallback is non-nil Payload holds the ParseFailure object.
type Result struct {
	Payload        json.RawMessage
	Raw            string
	ReasoningTrace []string
	CallID         string
	Usage          Usage
	Stage          ParseStage
	Fallback       *ParseFailure
}

// Degraded reports whether structured recovery failed.
func (r *Result) Degraded() bool { return r.Fallback != nil }

// Decode unmarshals the payload into v. A degraded result is decoded too,
// so callers see the failure fields; check Degraded first.
func (r *Result) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.CallID, err)
	}
	return nil
}

// DecodePartial unmarshals the payload into v and keeps whatever decoded.
// It returns a reasoning trace note when part of the reply was skipped, or
// "" when the whole payload decoded.
func (r *Result) DecodePartial(v interface{}) string {
	err := json.Unmarshal(r.Payload, v)
	if err == nil {
		return ""
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		logging.PerceptionWarn("call %s: field %q had shape %s, skipped", r.CallID, typeErr.Field, typeErr.Value)
		return fmt.Sprintf("Reply field %q had an unexpected shape (%s) and was skipped", typeErr.Field, typeErr.Value)
	}
	logging.PerceptionWarn("call %s: payload only partly decoded: %v", r.CallID, err)
	return fmt.Sprintf("Reply could not be fully decoded: %v", err)
}

// CallRecord captures one provider call attempt for the transparency log.
type CallRecord struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Action          string            `json:"action"`
	Context         map[string]string `json:"context,omitempty"`
	Temperature     float32           `json:"temperature"`
	Structured      bool              `json:"structured"`
	SystemPreview   string            `json:"system_preview"`
	PromptPreview   string            `json:"prompt_preview"`
	ResponsePreview string            `json:"response_preview,omitempty"`
	Status          CallStatus        `json:"status"`
	Error           string            `json:"error,omitempty"`
	Stage           ParseStage        `json:"parse_stage,omitempty"`
	Usage           Usage             `json:"usage"`
	ReasoningTrace  []string          `json:"reasoning_trace,omitempty"`
	Duration        time.Duration     `json:"duration"`
}

// UsageRecorder receives token counts for every successful call.
type UsageRecorder interface {
	Track(ctx context.Context, provider string, input, output int, operation string)
}

// Gateway is the sole boundary to the reasoning provider. Every Invoke
// appends exactly one CallRecord.
type Gateway struct {
	provider Provider
	recorder UsageRecorder

	mu  sync.Mutex
	log []CallRecord
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithUsageRecorder forwards per-call usage to r.
func WithUsageRecorder(r UsageRecorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

// NewGateway wraps a provider.
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{provider: provider}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke sends one request and normalizes the reply. Provider failures
// return *ReasoningProviderError; parse failures return a degraded Result.
func (g *Gateway) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	callID := fmt.Sprintf("%s_%s", inv.Action, uuid.NewString())
	start := time.Now()

	record := CallRecord{
		ID:            callID,
		Timestamp:     start,
		Action:        inv.Action,
		Context:       copyContext(inv.Context),
		Temperature:   inv.Temperature,
		Structured:    inv.Structured,
		SystemPreview: preview(inv.System, systemPreviewLen),
		PromptPreview: preview(inv.Prompt, promptPreviewLen),
	}

	logging.API("call %s started: provider=%s prompt_len=%d structured=%v",
		callID, g.provider.Name(), len(inv.Prompt), inv.Structured)

	logging.APIDebug("call %s action=%s context=%v", callID, inv.Action, inv.Context)

	resp, err := g.provider.Generate(ctx, ProviderRequest{
		System:      inv.System,
		Prompt:      inv.Prompt,
		Structured:  inv.Structured,
		Temperature: inv.Temperature,
	})
	record.Duration = time.Since(start)

	if err != nil {
		record.Status = CallError
		record.Error = err.Error()
		g.append(record)
		logging.APIError("call %s failed after %v: %v", callID, record.Duration, err)
		return nil, &ReasoningProviderError{Action: inv.Action, CallID: callID, Cause: err}
	}

	result := &Result{
		Raw:    resp.Text,
		CallID: callID,
		Usage:  resp.Usage,
		Stage:  StageNone,
	}

	if inv.Structured {
		payload, stage, parseErr := ParseStructured(resp.Text)
		result.Stage = stage
		if parseErr != nil {
			result.Fallback = newParseFailure(resp.Text, parseErr)
			result.Payload = marshalPayload(result.Fallback)
			logging.PerceptionWarn("call %s: structured recovery failed: %v", callID, parseErr)
		} else {
			result.Payload = payload
			if stage != StageDirect {
				logging.PerceptionDebug("call %s: payload recovered via %s", callID, stage)
			}
		}
	} else {
		result.Payload = marshalPayload(map[string]string{"text": resp.Text})
	}

	result.ReasoningTrace = extractReasoningTrace(inv.Action, result.Payload, result.Fallback)

	record.Status = CallSuccess
	record.ResponsePreview = preview(resp.Text, responsePreviewLen)
	record.Stage = result.Stage
	record.Usage = resp.Usage
	record.ReasoningTrace = append([]string(nil), result.ReasoningTrace...)
	g.append(record)

	if g.recorder != nil {
		g.recorder.Track(ctx, g.provider.Name(), resp.Usage.PromptUnits, resp.Usage.CompletionUnits, inv.Action)
	}

	logging.API("call %s completed in %v: stage=%s tokens=%d", callID, record.Duration, result.Stage, resp.Usage.TotalUnits)
	return result, nil
}

func (g *Gateway) append(r CallRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log = append(g.log, r)
}

// CallLog returns a copy of every call record in order.
func (g *Gateway) CallLog() []CallRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CallRecord, len(g.log))
	copy(out, g.log)
	return out
}

// ClearLog drops all call records.
func (g *Gateway) ClearLog() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log = nil
}

// ReasoningSummary renders the call log as markdown for transparency views.
func (g *Gateway) ReasoningSummary() string {
	calls := g.CallLog()
	if len(calls) == 0 {
		return "No reasoning calls made yet."
	}

	var sb strings.Builder
	var total Usage
	for i, c := range calls {
		total.Add(c.Usage)
		fmt.Fprintf(&sb, "### Call %d: %s\n", i+1, c.Action)
		fmt.Fprintf(&sb, "- Status: %s\n", c.Status)
		fmt.Fprintf(&sb, "- Time: %s (%v)\n", c.Timestamp.Format(time.RFC3339), c.Duration.Round(time.Millisecond))
		if c.Error != "" {
			fmt.Fprintf(&sb, "- Error: %s\n", c.Error)
		}
		if c.Stage != StageNone && c.Stage != StageDirect {
			fmt.Fprintf(&sb, "- Parse: %s\n", c.Stage)
		}
		if len(c.ReasoningTrace) > 0 {
			sb.WriteString("- Reasoning:\n")
			for _, step := range c.ReasoningTrace {
				fmt.Fprintf(&sb, "  - %s\n", step)
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Total: %d calls, %d tokens\n", len(calls), total.TotalUnits)
	return sb.String()
}

// preview truncates s to n bytes, on a rune boundary, and marks truncation.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func copyContext(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
