// Package participant defines the model-call surface the deliberation
// engine fans out over, plus the Anthropic-backed implementation and the
// token budget policy applied to every call.
package participant

import (
	"context"
	"fmt"
	"time"
)

// Message is a single turn in a conversation sent to a participant.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Result is a completed participant call.
type Result struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// Usage renders token accounting in the form the ledger stores.
func (r Result) Usage() map[string]any {
	return map[string]any{
		"input_tokens":  r.InputTokens,
		"output_tokens": r.OutputTokens,
		"stop_reason":   r.StopReason,
	}
}

// ErrorKind classifies a failed participant call.
type ErrorKind string

const (
	ErrTimeout   ErrorKind = "timeout"
	ErrTransport ErrorKind = "transport"
	ErrMalformed ErrorKind = "malformed"
	ErrUpstream  ErrorKind = "upstream"
)

// CallError wraps a failed call with its classification so the engine can
// log and persist the failure without inspecting provider error types.
type CallError struct {
	Kind  ErrorKind
	Model string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("participant call failed (%s, model %s): %v", e.Kind, e.Model, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Participant produces one completion. Implementations must honor ctx
// cancellation and classify failures with *CallError.
type Participant interface {
	// Name identifies the participant in logs and artifacts, typically
	// the model identifier.
	Name() string

	// Complete sends the system prompt and messages and returns the
	// completion, bounded by maxTokens and timeout.
	Complete(ctx context.Context, system string, messages []Message, maxTokens int, timeout time.Duration) (*Result, error)
}
