package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vutler/agentd/llm"
)

type staticPrompts struct{}

func (staticPrompts) Build(ctx context.Context, agentID, userMessage string) string {
	return "system prompt for " + agentID
}

type staticTools struct{ specs []llm.ToolSpec }

func (p staticTools) Specs() []llm.ToolSpec { return p.specs }

type recordingExecutor struct {
	results map[string]any
	err     error
	calls   []string
}

func (e *recordingExecutor) Handle(ctx context.Context, toolName, agentID string, input []byte) (any, error) {
	e.calls = append(e.calls, toolName)
	if e.err != nil {
		return nil, e.err
	}
	return e.results[toolName], nil
}

// fakeClient replays a scripted sequence of responses, one per Synchronous or
// Stream call.
type fakeClient struct {
	responses []*llm.Response
	errs      []error
	call      int
	requests  []*llm.Request
}

func (c *fakeClient) next(req *llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	i := c.call
	c.call++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.responses) {
		return nil, fmt.Errorf("unexpected call %d", i)
	}
	return c.responses[i], nil
}

func (c *fakeClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return c.next(req)
}

func (c *fakeClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	resp, err := c.next(req)
	if err != nil {
		return nil, err
	}
	return newFakeStream(resp), nil
}

// fakeStream replays a complete response as stream events.
type fakeStream struct {
	events []*llm.StreamEvent
	pos    int
}

func newFakeStream(resp *llm.Response) *fakeStream {
	var events []*llm.StreamEvent
	for _, block := range resp.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			events = append(events, &llm.StreamEvent{Type: llm.StreamEventText, Text: block.Text})
		case llm.ContentBlockTypeToolUse:
			events = append(events, &llm.StreamEvent{Type: llm.StreamEventToolUse, ToolUse: block.ToolUse})
		}
	}
	events = append(events, &llm.StreamEvent{Type: llm.StreamEventDone, StopReason: resp.StopReason})
	return &fakeStream{events: events}
}

func (s *fakeStream) Next() bool {
	if s.pos >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Event() *llm.StreamEvent { return s.events[s.pos-1] }
func (s *fakeStream) Err() error              { return nil }
func (s *fakeStream) Close() error            { return nil }

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: text}},
		StopReason: "end_turn",
	}
}

func toolResponse(id, name string, input map[string]interface{}) *llm.Response {
	return &llm.Response{
		Content: []llm.ContentBlock{
			{Type: llm.ContentBlockTypeToolUse, ToolUse: &llm.ToolUseBlock{ID: id, Name: name, Input: input}},
		},
		StopReason: "tool_use",
	}
}

func newRuntime(client llm.Client, exec ToolExecutor) *RuntimeStrategy {
	return NewRuntimeStrategy(client, staticPrompts{}, exec, staticTools{}, "test-model", 1024, zerolog.Nop())
}

func TestRuntimeStrategyPlainAnswer(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{textResponse("just an answer")}}
	exec := &recordingExecutor{}

	result, err := newRuntime(client, exec).Execute(context.Background(), "agent-1", "hi", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Response != "just an answer" {
		t.Errorf("Response = %q", result.Response)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %d, want 0", len(result.ToolCalls))
	}
	if len(exec.calls) != 0 {
		t.Errorf("executor called %d times, want 0", len(exec.calls))
	}
	if client.requests[0].System != "system prompt for agent-1" {
		t.Errorf("system prompt not built: %q", client.requests[0].System)
	}
}

func TestRuntimeStrategyToolLoop(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		toolResponse("tu-1", "recall_memories", map[string]interface{}{"query": "coffee"}),
		textResponse("you prefer dark roast"),
	}}
	exec := &recordingExecutor{results: map[string]any{
		"recall_memories": map[string]any{"count": 1},
	}}

	result, err := newRuntime(client, exec).Execute(context.Background(), "agent-1", "what coffee do I like?", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Response != "you prefer dark roast" {
		t.Errorf("Response = %q", result.Response)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Tool != "recall_memories" {
		t.Fatalf("ToolCalls = %#v", result.ToolCalls)
	}
	if exec.calls[0] != "recall_memories" {
		t.Errorf("executor calls = %v", exec.calls)
	}

	// The second request must carry the assistant tool use and the result.
	second := client.requests[1]
	if len(second.Messages) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(second.Messages))
	}
	resultBlock := second.Messages[2].Content[0].ToolResult
	if resultBlock == nil || resultBlock.ID != "tu-1" || resultBlock.IsError {
		t.Errorf("tool result block = %#v", resultBlock)
	}
}

func TestRuntimeStrategyToolErrorBecomesPayload(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		toolResponse("tu-1", "store_memory", map[string]interface{}{"content": "x"}),
		textResponse("could not store that"),
	}}
	exec := &recordingExecutor{err: errors.New("db locked")}

	result, err := newRuntime(client, exec).Execute(context.Background(), "agent-1", "remember x", nil)
	if err != nil {
		t.Fatalf("tool failure must not fail the turn: %v", err)
	}

	resultBlock := client.requests[1].Messages[2].Content[0].ToolResult
	if !resultBlock.IsError {
		t.Error("tool result should be flagged as error")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(resultBlock.Content), &payload); err != nil {
		t.Fatalf("tool result content not JSON: %v", err)
	}
	if payload["error"] != "db locked" {
		t.Errorf("error payload = %v", payload)
	}
	if result.ToolCalls[0].Result.(map[string]any)["error"] != "db locked" {
		t.Errorf("recorded tool call result = %#v", result.ToolCalls[0].Result)
	}
}

func TestRuntimeStrategyIterationCap(t *testing.T) {
	responses := make([]*llm.Response, maxIterations+1)
	for i := range responses {
		responses[i] = toolResponse(fmt.Sprintf("tu-%d", i), "recall_memories", map[string]interface{}{})
	}
	client := &fakeClient{responses: responses}
	exec := &recordingExecutor{results: map[string]any{"recall_memories": map[string]any{}}}

	_, err := newRuntime(client, exec).Execute(context.Background(), "agent-1", "loop", nil)
	if err == nil || !strings.Contains(err.Error(), "maximum iterations") {
		t.Fatalf("expected iteration cap error, got %v", err)
	}
	if client.call != maxIterations {
		t.Errorf("model called %d times, want %d", client.call, maxIterations)
	}
}

func TestRuntimeStrategyStreaming(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		toolResponse("tu-1", "recall_memories", map[string]interface{}{"query": "q"}),
		{
			Content: []llm.ContentBlock{
				{Type: llm.ContentBlockTypeText, Text: "hello "},
				{Type: llm.ContentBlockTypeText, Text: "world"},
			},
			StopReason: "end_turn",
		},
	}}
	exec := &recordingExecutor{results: map[string]any{"recall_memories": map[string]any{}}}

	var chunks []string
	result, err := newRuntime(client, exec).Execute(context.Background(), "agent-1", "hi",
		func(text string) error {
			chunks = append(chunks, text)
			return nil
		})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if strings.Join(chunks, "") != "hello world" {
		t.Errorf("chunks = %v", chunks)
	}
	if result.Response != "hello world" {
		t.Errorf("Response = %q", result.Response)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
}

func TestRuntimeStrategyStreamCallbackErrorAborts(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{textResponse("some text")}}
	exec := &recordingExecutor{}

	_, err := newRuntime(client, exec).Execute(context.Background(), "agent-1", "hi",
		func(text string) error { return errors.New("client went away") })
	if err == nil || !strings.Contains(err.Error(), "client went away") {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestLegacyStrategySync(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{textResponse("plain answer")}}
	strategy := NewLegacyStrategy(client, staticPrompts{}, "test-model", 1024, zerolog.Nop())

	result, err := strategy.Execute(context.Background(), "agent-1", "hi", nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Response != "plain answer" {
		t.Errorf("Response = %q", result.Response)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if len(client.requests[0].Tools) != 0 {
		t.Errorf("legacy request carries %d tools, want 0", len(client.requests[0].Tools))
	}
}

func TestLegacyStrategyStreaming(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		{
			Content: []llm.ContentBlock{
				{Type: llm.ContentBlockTypeText, Text: "a"},
				{Type: llm.ContentBlockTypeText, Text: "b"},
			},
			StopReason: "end_turn",
		},
	}}
	strategy := NewLegacyStrategy(client, staticPrompts{}, "test-model", 1024, zerolog.Nop())

	var chunks []string
	result, err := strategy.Execute(context.Background(), "agent-1", "hi",
		func(text string) error {
			chunks = append(chunks, text)
			return nil
		})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(chunks) != 2 || result.Response != "ab" {
		t.Errorf("chunks = %v, response = %q", chunks, result.Response)
	}
}

func TestAssistantMessageRebuildsHistory(t *testing.T) {
	msg := assistantMessage("let me check", []llm.ToolUseBlock{
		{ID: "tu-1", Name: "recall_memories", Input: map[string]interface{}{"query": "x"}},
		{ID: "tu-2", Name: "store_memory", Input: map[string]interface{}{"content": "y"}},
	})

	if msg.Role != llm.RoleAssistant {
		t.Errorf("expected assistant role, got %q", msg.Role)
	}
	if len(msg.Content) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(msg.Content))
	}
	if msg.Content[0].Type != llm.ContentBlockTypeText || msg.Content[0].Text != "let me check" {
		t.Errorf("unexpected text block: %+v", msg.Content[0])
	}
	// Each block must hold its own tool use, not a shared final value.
	if msg.Content[1].ToolUse.ID != "tu-1" || msg.Content[2].ToolUse.ID != "tu-2" {
		t.Errorf("tool use IDs = %q, %q", msg.Content[1].ToolUse.ID, msg.Content[2].ToolUse.ID)
	}
	if msg.Content[1].ToolUse == msg.Content[2].ToolUse {
		t.Error("tool use blocks must not alias the same value")
	}

	noText := assistantMessage("", []llm.ToolUseBlock{{ID: "tu-1", Name: "recall_memories"}})
	if len(noText.Content) != 1 || noText.Content[0].Type != llm.ContentBlockTypeToolUse {
		t.Errorf("empty text must not produce a text block: %+v", noText.Content)
	}
}
