package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vutler/agentd/llm"
)

// maxIterations caps the tool loop to guard against a model that never stops
// requesting tools.
const maxIterations = 10

// PromptBuilder produces the system prompt for a turn. Build never fails.
type PromptBuilder interface {
	Build(ctx context.Context, agentID, userMessage string) string
}

// ToolExecutor dispatches a tool call requested by the model.
type ToolExecutor interface {
	Handle(ctx context.Context, toolName, agentID string, input []byte) (any, error)
}

// ToolProvider supplies the tool specs advertised to the model.
type ToolProvider interface {
	Specs() []llm.ToolSpec
}

// RuntimeStrategy is the tool-augmented execution path: it loops between the
// model and the tool executor until the model stops requesting tools or the
// iteration cap is hit. Tool execution errors are returned to the model as
// error payloads, not surfaced as turn failures.
type RuntimeStrategy struct {
	client    llm.Client
	prompts   PromptBuilder
	toolExec  ToolExecutor
	toolProv  ToolProvider
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewRuntimeStrategy creates the tool-augmented strategy.
func NewRuntimeStrategy(client llm.Client, prompts PromptBuilder, toolExec ToolExecutor, toolProv ToolProvider, model string, maxTokens int64, logger zerolog.Logger) *RuntimeStrategy {
	return &RuntimeStrategy{
		client:    client,
		prompts:   prompts,
		toolExec:  toolExec,
		toolProv:  toolProv,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "runtime_strategy").Logger(),
	}
}

// Name implements Strategy.
func (s *RuntimeStrategy) Name() string { return "runtime" }

// Execute implements Strategy.
func (s *RuntimeStrategy) Execute(ctx context.Context, agentID, message string, onChunk StreamCallback) (*TurnResult, error) {
	req := &llm.Request{
		Model:     s.model,
		System:    s.prompts.Build(ctx, agentID, message),
		Messages:  []llm.Message{llm.NewTextMessage(llm.RoleUser, message)},
		Tools:     s.toolProv.Specs(),
		MaxTokens: s.maxTokens,
	}

	if onChunk == nil {
		return s.executeSync(ctx, agentID, req)
	}
	return s.executeStream(ctx, agentID, req, onChunk)
}

func (s *RuntimeStrategy) executeSync(ctx context.Context, agentID string, req *llm.Request) (*TurnResult, error) {
	history := req.Messages
	var toolCalls []ToolCall

	for iteration := 1; iteration <= maxIterations; iteration++ {
		resp, err := s.client.Synchronous(ctx, &llm.Request{
			Model:     req.Model,
			System:    req.System,
			Messages:  history,
			Tools:     req.Tools,
			MaxTokens: req.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		toolUses := resp.ToolUses()
		if len(toolUses) == 0 {
			return &TurnResult{
				Response:   strings.TrimSpace(resp.Text()),
				Iterations: iteration,
				ToolCalls:  toolCalls,
			}, nil
		}

		results := s.runTools(ctx, agentID, toolUses, &toolCalls)
		history = append(history, llm.NewToolResultMessage(results))
	}

	return nil, fmt.Errorf("tool loop exceeded maximum iterations (%d)", maxIterations)
}

func (s *RuntimeStrategy) executeStream(ctx context.Context, agentID string, req *llm.Request, onChunk StreamCallback) (*TurnResult, error) {
	history := req.Messages
	var toolCalls []ToolCall

	for iteration := 1; iteration <= maxIterations; iteration++ {
		stream, err := s.client.Stream(ctx, &llm.Request{
			Model:     req.Model,
			System:    req.System,
			Messages:  history,
			Tools:     req.Tools,
			MaxTokens: req.MaxTokens,
		})
		if err != nil {
			return nil, err
		}

		var text strings.Builder
		var toolUses []llm.ToolUseBlock
		for stream.Next() {
			event := stream.Event()
			switch event.Type {
			case llm.StreamEventText:
				text.WriteString(event.Text)
				if err := onChunk(event.Text); err != nil {
					stream.Close() //nolint:errcheck
					return nil, fmt.Errorf("stream callback error: %w", err)
				}
			case llm.StreamEventToolUse:
				if event.ToolUse != nil {
					toolUses = append(toolUses, *event.ToolUse)
				}
			}
		}
		if err := stream.Err(); err != nil {
			stream.Close() //nolint:errcheck
			return nil, err
		}
		stream.Close() //nolint:errcheck

		if len(toolUses) == 0 {
			return &TurnResult{
				Response:   strings.TrimSpace(text.String()),
				Iterations: iteration,
				ToolCalls:  toolCalls,
			}, nil
		}

		history = append(history, assistantMessage(text.String(), toolUses))
		results := s.runTools(ctx, agentID, toolUses, &toolCalls)
		history = append(history, llm.NewToolResultMessage(results))
	}

	return nil, fmt.Errorf("tool loop exceeded maximum iterations (%d)", maxIterations)
}

// runTools executes the model's tool requests in order, recording each call
// and converting handler errors into error payloads the model can react to.
func (s *RuntimeStrategy) runTools(ctx context.Context, agentID string, toolUses []llm.ToolUseBlock, toolCalls *[]ToolCall) []llm.ToolResultBlock {
	results := make([]llm.ToolResultBlock, 0, len(toolUses))
	for _, use := range toolUses {
		input, err := json.Marshal(use.Input)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", use.Name).Msg("Failed to marshal tool input")
			input = []byte("{}")
		}

		result, callErr := s.toolExec.Handle(ctx, use.Name, agentID, input)
		isError := callErr != nil
		if isError {
			result = map[string]any{"error": callErr.Error()}
		}

		*toolCalls = append(*toolCalls, ToolCall{
			Tool:   use.Name,
			Input:  use.Input,
			Result: result,
		})

		resultJSON, err := json.Marshal(result)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", use.Name).Msg("Failed to marshal tool result")
			resultJSON = []byte(`{"error":"unserializable tool result"}`)
		}
		results = append(results, llm.ToolResultBlock{
			ID:      use.ID,
			Content: string(resultJSON),
			IsError: isError,
		})
	}
	return results
}

// assistantMessage rebuilds the assistant turn from streamed text and tool
// uses so the next request carries a faithful history.
func assistantMessage(text string, toolUses []llm.ToolUseBlock) llm.Message {
	content := make([]llm.ContentBlock, 0, len(toolUses)+1)
	if text != "" {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: text})
	}
	content = append(content, lo.Map(toolUses, func(use llm.ToolUseBlock, _ int) llm.ContentBlock {
		return llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: &use}
	})...)
	return llm.Message{Role: llm.RoleAssistant, Content: content}
}
