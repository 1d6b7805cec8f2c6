package openai

import (
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vutler/agentd/llm"
)

// stream translates OpenAI completion chunks into llm.StreamEvents on
// demand. Only text deltas are surfaced; the legacy path carries no tools.
type stream struct {
	inner *openai.ChatCompletionStream
	event *llm.StreamEvent
	err   error
	done  bool
	usage llm.Usage
}

func newStream(inner *openai.ChatCompletionStream) *stream {
	return &stream{inner: inner}
}

func (s *stream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for {
		response, err := s.inner.Recv()
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				usage := s.usage
				s.event = &llm.StreamEvent{
					Type:       llm.StreamEventDone,
					Usage:      &usage,
					StopReason: "stop",
				}
				return true
			}
			s.err = convertError(err)
			return false
		}

		if response.Usage != nil {
			s.usage.InputTokens = int64(response.Usage.PromptTokens)
			s.usage.OutputTokens = int64(response.Usage.CompletionTokens)
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			s.event = &llm.StreamEvent{Type: llm.StreamEventText, Text: choice.Delta.Content}
			return true
		}
		if choice.FinishReason != "" {
			s.done = true
			usage := s.usage
			stopReason := "stop"
			if choice.FinishReason == openai.FinishReasonLength {
				stopReason = "max_tokens"
			}
			s.event = &llm.StreamEvent{
				Type:       llm.StreamEventDone,
				Usage:      &usage,
				StopReason: stopReason,
			}
			return true
		}
	}
}

func (s *stream) Event() *llm.StreamEvent {
	return s.event
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	s.done = true
	if s.inner != nil {
		return s.inner.Close()
	}
	return nil
}

var _ llm.Stream = (*stream)(nil)
