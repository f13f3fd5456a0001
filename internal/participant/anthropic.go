package participant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicParticipant calls the Anthropic Messages API.
type AnthropicParticipant struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a participant for one model. The API key comes
// from configuration, never from a hardcoded value.
func NewAnthropic(apiKey, model string) *AnthropicParticipant {
	return &AnthropicParticipant{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicParticipant) Name() string {
	return p.model
}

func (p *AnthropicParticipant) Complete(ctx context.Context, system string, messages []Message, maxTokens int, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &CallError{
			Kind:  ErrMalformed,
			Model: p.model,
			Err:   fmt.Errorf("response contained no text blocks (stop reason %s)", msg.StopReason),
		}
	}

	return &Result{
		Content:      text.String(),
		Model:        p.model,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		StopReason:   string(msg.StopReason),
	}, nil
}

func (p *AnthropicParticipant) classify(err error) *CallError {
	kind := ErrTransport
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	default:
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			kind = ErrUpstream
		}
	}
	return &CallError{Kind: kind, Model: p.model, Err: err}
}
