package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vutler/agentd/llm"
)

// LegacyStrategy is the plain text path: one model call per turn, no tools.
// It is the fallback when the runtime path is unavailable or fails, so it
// must stay as simple as possible.
type LegacyStrategy struct {
	client    llm.Client
	prompts   PromptBuilder
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewLegacyStrategy creates the text-only strategy.
func NewLegacyStrategy(client llm.Client, prompts PromptBuilder, model string, maxTokens int64, logger zerolog.Logger) *LegacyStrategy {
	return &LegacyStrategy{
		client:    client,
		prompts:   prompts,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "legacy_strategy").Logger(),
	}
}

// Name implements Strategy.
func (s *LegacyStrategy) Name() string { return "legacy" }

// Execute implements Strategy.
func (s *LegacyStrategy) Execute(ctx context.Context, agentID, message string, onChunk StreamCallback) (*TurnResult, error) {
	req := &llm.Request{
		Model:     s.model,
		System:    s.prompts.Build(ctx, agentID, message),
		Messages:  []llm.Message{llm.NewTextMessage(llm.RoleUser, message)},
		MaxTokens: s.maxTokens,
	}

	if onChunk == nil {
		resp, err := s.client.Synchronous(ctx, req)
		if err != nil {
			return nil, err
		}
		return &TurnResult{
			Response:   strings.TrimSpace(resp.Text()),
			Iterations: 1,
		}, nil
	}

	stream, err := s.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close() //nolint:errcheck

	var text strings.Builder
	for stream.Next() {
		event := stream.Event()
		if event.Type != llm.StreamEventText {
			continue
		}
		text.WriteString(event.Text)
		if err := onChunk(event.Text); err != nil {
			return nil, fmt.Errorf("stream callback error: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	return &TurnResult{
		Response:   strings.TrimSpace(text.String()),
		Iterations: 1,
	}, nil
}
