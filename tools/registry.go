// Package tools dispatches model-requested tool calls to registered handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vutler/agentd/llm"
)

// Handler handles a tool call for a specific agent.
type Handler func(ctx context.Context, agentID string, args json.RawMessage) (any, error)

// Registry maps tool names to handlers and their model-facing specs.
type Registry struct {
	handlers map[string]Handler
	specs    []llm.ToolSpec
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With().Str("component", "tool_registry").Logger(),
	}
}

// Register registers a handler under its spec's name.
// Tool names must match ^[a-zA-Z0-9_-]{1,128}$ (no dots allowed).
func (r *Registry) Register(spec llm.ToolSpec, h Handler) {
	r.logger.Debug().Str("name", spec.Name).Msg("Registering tool handler")
	r.handlers[spec.Name] = h
	r.specs = append(r.specs, spec)
}

// Specs returns the specs of all registered tools.
func (r *Registry) Specs() []llm.ToolSpec {
	return lo.Map(r.specs, func(spec llm.ToolSpec, _ int) llm.ToolSpec {
		return spec
	})
}

// Handle dispatches a tool call.
func (r *Registry) Handle(ctx context.Context, toolName, agentID string, args []byte) (any, error) {
	h, ok := r.handlers[toolName]
	if !ok {
		r.logger.Error().Str("tool", toolName).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	r.logger.Info().Str("tool", toolName).Str("agentID", agentID).Msg("Executing tool")
	result, err := h(ctx, agentID, json.RawMessage(args))
	if err != nil {
		r.logger.Warn().Str("tool", toolName).Str("agentID", agentID).Err(err).Msg("Tool returned error")
		return nil, err
	}

	if resultBytes, e := json.Marshal(result); e == nil {
		strResult := string(resultBytes)
		if len(strResult) > 500 {
			strResult = strResult[:500] + "... (truncated)"
		}
		r.logger.Debug().Str("tool", toolName).Str("agentID", agentID).Str("result", strResult).Msg("Tool returned result")
	}
	return result, nil
}
