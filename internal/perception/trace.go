package perception

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"evidencelab/internal/types"
)

// extractReasoningTrace returns the payload's own reasoning_trace when it
// carries one, otherwise a trace synthesized from the action and shape.
// The result is never empty.
func extractReasoningTrace(action string, payload json.RawMessage, failure *ParseFailure) []string {
	if failure != nil {
		return []string{
			fmt.Sprintf("Completed %s call", action),
			"Response could not be parsed as structured data; raw text preserved",
			"Parse error: " + failure.ParseError,
		}
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return []string{fmt.Sprintf("Completed %s call", action)}
	}

	if own := traceField(fields["reasoning_trace"]); len(own) > 0 {
		return own
	}

	trace := synthesizeTrace(action, fields)
	if len(trace) == 0 {
		trace = []string{fmt.Sprintf("Completed %s call", action)}
	}
	return trace
}

// traceField accepts a list of steps or a single string.
func traceField(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, step := range t {
			if s := strings.TrimSpace(types.ExtractString(step)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func synthesizeTrace(action string, f map[string]interface{}) []string {
	var trace []string
	switch action {
	case "extraction", "extraction_refinement":
		trace = append(trace, fmt.Sprintf("Extracted %d evidence chunks", max(0, types.ExtractList(f["chunks"]))))
		if concerns := traceField(f["concerns"]); len(concerns) > 0 {
			if len(concerns) > 3 {
				concerns = concerns[:3]
			}
			trace = append(trace, "Noted concerns: "+strings.Join(concerns, "; "))
		}
		if n := types.ExtractList(f["skipped"]); n > 0 {
			trace = append(trace, fmt.Sprintf("Skipped items: %d", n))
		}

	case "hypothesis_test", "hypothesis_challenge":
		trace = append(trace, fmt.Sprintf("Found %d supporting and %d counter evidence chunks",
			max(0, types.ExtractList(f["supporting_evidence"])), max(0, types.ExtractList(f["counter_evidence"]))))
		if v := types.ExtractString(f["verdict"]); v != "" {
			trace = append(trace, "Verdict: "+v)
		}
		if c := types.ExtractString(f["confidence"]); c != "" {
			trace = append(trace, "Confidence: "+c)
		}

	case "pattern_synthesis", "clustering":
		trace = append(trace, fmt.Sprintf("Identified %d patterns", max(0, types.ExtractList(f["patterns"]))))
		if n := types.ExtractList(f["contradictions"]); n > 0 {
			trace = append(trace, fmt.Sprintf("Found %d contradictions", n))
		}
		if n := types.ExtractList(f["gaps"]); n > 0 {
			trace = append(trace, fmt.Sprintf("Identified %d gaps", n))
		}

	case "counter_evidence":
		trace = append(trace, fmt.Sprintf("Found %d counter evidence items and %d alternative explanations",
			max(0, types.ExtractList(f["counter_evidence"])), max(0, types.ExtractList(f["alternative_explanations"]))))

	case "intent_classification":
		if in := types.ExtractString(f["intent"]); in != "" {
			trace = append(trace, fmt.Sprintf("Classified intent as %s (%s confidence)", in, types.ExtractString(f["confidence"])))
		}
	}

	if len(trace) == 0 {
		trace = shapeSummary(action, f)
	}
	return trace
}

// shapeSummary describes any payload by its list fields.
func shapeSummary(action string, f map[string]interface{}) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var counts []string
	for _, k := range keys {
		if n := types.ExtractList(f[k]); n >= 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	trace := []string{fmt.Sprintf("Completed %s with %d fields", action, len(keys))}
	if len(counts) > 0 {
		trace = append(trace, "Item counts: "+strings.Join(counts, ", "))
	}
	return trace
}
