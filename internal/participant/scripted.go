package participant

import (
	"context"
	"sync"
	"time"
)

// Scripted is a deterministic participant used in tests and dry runs. It
// returns queued responses in order and repeats the last one when the
// queue is exhausted. A queued *CallError is returned as the call's
// failure instead of a result.
type Scripted struct {
	ParticipantName string

	mu        sync.Mutex
	responses []any // string or *CallError
	calls     int
}

// NewScripted queues the given responses for a named fake participant.
func NewScripted(name string, responses ...any) *Scripted {
	return &Scripted{ParticipantName: name, responses: responses}
}

func (s *Scripted) Name() string {
	return s.ParticipantName
}

// Calls reports how many times Complete was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Complete(ctx context.Context, system string, messages []Message, maxTokens int, timeout time.Duration) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CallError{Kind: ErrTimeout, Model: s.ParticipantName, Err: err}
	}

	s.mu.Lock()
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	var next any
	if idx >= 0 {
		next = s.responses[idx]
	}
	s.mu.Unlock()

	switch v := next.(type) {
	case *CallError:
		return nil, v
	case string:
		return &Result{
			Content:      v,
			Model:        s.ParticipantName,
			InputTokens:  int64(len(system)+totalLen(messages)) / 4,
			OutputTokens: int64(len(v)) / 4,
			StopReason:   "end_turn",
		}, nil
	default:
		return &Result{Content: "", Model: s.ParticipantName, StopReason: "end_turn"}, nil
	}
}

func totalLen(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}
