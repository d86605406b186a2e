// Package transparency turns raw failures into readable, actionable messages
// at the turn boundary.
package transparency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"evidencelab/internal/perception"
	"evidencelab/internal/store"
)

// ErrorCategory classifies errors for user guidance.
type ErrorCategory int

const (
	// ErrorCategoryAuth indicates a missing or rejected API key.
	ErrorCategoryAuth ErrorCategory = iota

	// ErrorCategoryQuota indicates rate limiting or exhausted quota.
	ErrorCategoryQuota

	// ErrorCategoryNetwork indicates a network connectivity issue.
	ErrorCategoryNetwork

	// ErrorCategoryTimeout indicates an operation timeout.
	ErrorCategoryTimeout

	// ErrorCategoryProvider is any other reasoning provider failure.
	ErrorCategoryProvider

	// ErrorCategoryParse indicates malformed provider output.
	ErrorCategoryParse

	// ErrorCategoryStore indicates a persistence failure.
	ErrorCategoryStore

	// ErrorCategoryUnknown is the fallback for unclassified errors.
	ErrorCategoryUnknown
)

var categoryNames = []string{"auth", "quota", "network", "timeout", "provider", "parse", "store", "unknown"}

// Prefix returns the display prefix for this error category.
func (c ErrorCategory) Prefix() string {
	if int(c) < len(categoryNames) {
		return "[" + strings.ToUpper(categoryNames[c]) + "]"
	}
	return "[ERROR]"
}

// String returns the category name.
func (c ErrorCategory) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// ClassifiedError wraps an error with classification and remediation.
type ClassifiedError struct {
	Original    error
	Category    ErrorCategory
	Summary     string
	Remediation []string
	// Action is the gateway action that failed, when known.
	Action string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Format()
}

// Unwrap returns the original error for errors.Is/As compatibility.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// Format returns a user-friendly error message with remediation.
func (ce *ClassifiedError) Format() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s %s\n\n", ce.Category.Prefix(), ce.Summary)
	fmt.Fprintf(&sb, "Details: %s\n", ce.Original.Error())

	if len(ce.Remediation) > 0 {
		sb.WriteString("\nSuggested fixes:\n")
		for _, r := range ce.Remediation {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}

	return sb.String()
}

// TurnMessage is the assistant reply persisted when a turn fails.
func (ce *ClassifiedError) TurnMessage() string {
	hint := "Please verify your API key and retry."
	if ce.Category != ErrorCategoryAuth && len(ce.Remediation) > 0 {
		hint = ce.Remediation[0]
	}
	return fmt.Sprintf("Error: %s\n\n%s", ce.Original.Error(), hint)
}

// ClassifyError analyzes an error and returns a classified version.
// Typed errors are checked first, then the message text.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Original:    err,
		Category:    ErrorCategoryUnknown,
		Summary:     "An unexpected error occurred",
		Remediation: GetRecoveryGuide(ErrorCategoryUnknown),
	}

	var perr *perception.ReasoningProviderError
	isProvider := errors.As(err, &perr)
	if isProvider {
		classified.Action = perr.Action
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) ||
		containsAny(errStr, "timeout", "deadline exceeded", "timed out"):
		classified.set(ErrorCategoryTimeout, "The reasoning call timed out")

	case containsAny(errStr, "api key", "unauthorized", "unauthenticated", "permission_denied", "401", "403", "invalid_api_key"):
		classified.set(ErrorCategoryAuth, "The reasoning provider rejected the credentials")

	case containsAny(errStr, "rate limit", "quota", "429", "resource_exhausted", "too many requests"):
		classified.set(ErrorCategoryQuota, "The reasoning provider is rate limiting requests")

	case containsAny(errStr, "connection", "network", "dial", "no such host", "unreachable", "eof"):
		classified.set(ErrorCategoryNetwork, "The reasoning provider could not be reached")

	case errors.Is(err, store.ErrNotFound) || containsAny(errStr, "database", "sqlite", "session store"):
		classified.set(ErrorCategoryStore, "Saving or loading session data failed")

	case containsAny(errStr, "unmarshal", "invalid character", "parse"):
		classified.set(ErrorCategoryParse, "The reasoning provider returned malformed output")

	case isProvider:
		classified.set(ErrorCategoryProvider, "The reasoning provider returned an error")
	}

	return classified
}

func (ce *ClassifiedError) set(category ErrorCategory, summary string) {
	ce.Category = category
	ce.Summary = summary
	ce.Remediation = GetRecoveryGuide(category)
}

// containsAny returns true if s contains any of the patterns.
func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// GetRecoveryGuide returns remediation steps for an error category.
func GetRecoveryGuide(category ErrorCategory) []string {
	guides := map[ErrorCategory][]string{
		ErrorCategoryAuth: {
			"Please verify your API key and retry.",
			"Set GEMINI_API_KEY or OPENAI_API_KEY, or llm.api_key in the config file",
		},
		ErrorCategoryQuota: {
			"The provider is throttling requests; wait a minute and retry.",
			"Check your account quota or switch models with EVLAB_MODEL",
		},
		ErrorCategoryNetwork: {
			"Check your connection and retry.",
			"Verify llm.base_url if you use an OpenAI-compatible endpoint",
		},
		ErrorCategoryTimeout: {
			"The call took too long; retry, or raise llm.timeout in the config.",
			"Paste smaller batches of research at a time",
		},
		ErrorCategoryProvider: {
			"The provider reported an error; retry in a moment.",
			"Run with --verbose and check the api log category",
		},
		ErrorCategoryParse: {
			"Retry the request; provider output varies between calls.",
		},
		ErrorCategoryStore: {
			"Check that the database path is writable and retry.",
			"Run `evlab sessions list` to confirm the session still exists",
		},
	}

	if steps, ok := guides[category]; ok {
		return steps
	}
	return []string{"Please verify your API key and retry.", "Run with --verbose for more details"}
}
