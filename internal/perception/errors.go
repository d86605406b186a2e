package perception

import "fmt"

// ReasoningProviderError is a provider-level failure (network, auth, quota)
// for one gateway action. The gateway never retries.
type ReasoningProviderError struct {
	Action string
	CallID string
	Cause  error
}

func (e *ReasoningProviderError) Error() string {
	return fmt.Sprintf("reasoning call failed for %s: %v", e.Action, e.Cause)
}

func (e *ReasoningProviderError) Unwrap() error { return e.Cause }
