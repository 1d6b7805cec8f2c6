package anthropic

import (
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/vutler/agentd/llm"
)

// stream translates Anthropic SSE events into llm.StreamEvents on demand.
// Tool input JSON fragments are accumulated internally; a tool_use event is
// emitted only once the block stops and its input is complete.
type stream struct {
	inner *ssestream.Stream[anthropic.MessageStreamEventUnion]
	event *llm.StreamEvent
	err   error
	done  bool

	toolID     string
	toolName   string
	toolInput  strings.Builder
	usage      llm.Usage
	stopReason string
}

func newStream(inner *ssestream.Stream[anthropic.MessageStreamEventUnion]) *stream {
	return &stream{inner: inner}
}

// Next implements llm.Stream.Next. SDK events that carry no consumer-visible
// payload (message start, text block boundaries, input JSON fragments) are
// absorbed here rather than surfaced.
func (s *stream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.inner.Next() {
		switch evt := s.inner.Current().AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.toolID = block.ID
				s.toolName = block.Name
				s.toolInput.Reset()
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					s.event = &llm.StreamEvent{Type: llm.StreamEventText, Text: delta.Text}
					return true
				}
			case anthropic.InputJSONDelta:
				s.toolInput.WriteString(delta.PartialJSON)
			}

		case anthropic.ContentBlockStopEvent:
			if s.toolID != "" {
				s.event = &llm.StreamEvent{
					Type: llm.StreamEventToolUse,
					ToolUse: &llm.ToolUseBlock{
						ID:    s.toolID,
						Name:  s.toolName,
						Input: s.finishToolInput(),
					},
				}
				s.toolID = ""
				s.toolName = ""
				return true
			}

		case anthropic.MessageDeltaEvent:
			s.usage.InputTokens = evt.Usage.InputTokens
			s.usage.OutputTokens = evt.Usage.OutputTokens
			s.stopReason = string(evt.Delta.StopReason)

		case anthropic.MessageStopEvent:
			s.done = true
			usage := s.usage
			s.event = &llm.StreamEvent{
				Type:       llm.StreamEventDone,
				Usage:      &usage,
				StopReason: s.stopReason,
			}
			return true
		}
	}

	s.err = s.inner.Err()
	s.done = true
	return false
}

func (s *stream) finishToolInput() map[string]interface{} {
	input := make(map[string]interface{})
	if s.toolInput.Len() > 0 {
		if err := json.Unmarshal([]byte(s.toolInput.String()), &input); err != nil {
			input = make(map[string]interface{})
		}
	}
	s.toolInput.Reset()
	return input
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
