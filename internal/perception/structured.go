package perception

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ParseStage records which recovery stage produced a structured payload.
type ParseStage string

const (
	StageNone      ParseStage = ""           // structured output not requested
	StageDirect    ParseStage = "direct"     // the whole response was JSON
	StageFenced    ParseStage = "fenced"     // recovered from a ``` block
	StageBraceScan ParseStage = "brace_scan" // recovered from the first {...} in prose
	StageFailed    ParseStage = "failed"     // degraded result
)

// ParseFailure is the degraded payload returned when no stage recovers an
// object. Consumers must check for it before trusting result fields.
type ParseFailure struct {
	Error             string `json:"error"`
	RawResponse       string `json:"raw_response"`
	ParseError        string `json:"parse_error"`
	FallbackAttempted bool   `json:"fallback_attempted"`
}

const parseFailureMessage = "Failed to parse JSON response"

var errNotObject = errors.New("payload is not a JSON object")

// fencedBlockRe matches ```json {...} ``` and bare ``` {...} ``` blocks.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// ParseStructured recovers a JSON object from a raw provider response by
// trying, in order, a direct parse, fenced code blocks and a brace scan.
// The error is the direct-parse error when every stage fails.
func ParseStructured(raw string) (json.RawMessage, ParseStage, error) {
	payload, directErr := parseDirect(raw)
	if directErr == nil {
		return payload, StageDirect, nil
	}
	if payload, ok := parseFenced(raw); ok {
		return payload, StageFenced, nil
	}
	if payload, ok := parseBraceScan(raw); ok {
		return payload, StageBraceScan, nil
	}
	return nil, StageFailed, directErr
}

// parseDirect accepts the response only if all of it is one JSON object.
func parseDirect(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("empty response")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, errNotObject
		}
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return json.RawMessage(trimmed), nil
}

// parseFenced returns the first fenced block whose body is a valid object.
func parseFenced(raw string) (json.RawMessage, bool) {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(raw, -1) {
		if payload, err := parseDirect(m[1]); err == nil {
			return payload, true
		}
	}
	return nil, false
}

// parseBraceScan decodes one JSON value starting at each '{' in turn and
// returns the first that is a complete object. The decoder honors string
// escaping, so braces inside string values do not confuse it.
func parseBraceScan(raw string) (json.RawMessage, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil || obj == nil {
			continue
		}
		end := i + int(dec.InputOffset())
		return json.RawMessage(bytes.TrimSpace([]byte(raw[i:end]))), true
	}
	return nil, false
}

// newParseFailure builds the degraded payload for an unrecoverable response.
func newParseFailure(raw string, err error) *ParseFailure {
	msg := "no JSON object found"
	if err != nil {
		msg = err.Error()
	}
	return &ParseFailure{
		Error:             parseFailureMessage,
		RawResponse:       raw,
		ParseError:        msg,
		FallbackAttempted: true,
	}
}

// marshalPayload encodes v, falling back to an error object.
func marshalPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return data
}
