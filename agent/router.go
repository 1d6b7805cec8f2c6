// Package agent routes conversation turns between the tool-augmented runtime
// strategy and the legacy text-only strategy.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// StreamCallback receives incremental text chunks during a streaming turn.
// Returning an error aborts the turn.
type StreamCallback func(text string) error

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input"`
	Result any                    `json:"result"`
}

// TurnResult is the final outcome of a conversation turn.
type TurnResult struct {
	Response   string
	Iterations int
	ToolCalls  []ToolCall
}

// Strategy executes one conversation turn. onChunk may be nil for
// non-streaming callers.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, agentID, message string, onChunk StreamCallback) (*TurnResult, error)
}

// CapabilityChecker decides whether an agent may use the tool-augmented path.
type CapabilityChecker interface {
	HasToolsEnabled(ctx context.Context, agentID string) (bool, error)
}

// Router picks a strategy per conversation turn. Capability is re-evaluated
// every turn, so config changes take effect on the next turn. An evaluation
// error fails open to the legacy path; a runtime execution error triggers
// exactly one sequential fallback to legacy, never a retry loop.
type Router struct {
	checker CapabilityChecker
	runtime Strategy
	legacy  Strategy
	logger  zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(checker CapabilityChecker, runtime, legacy Strategy, logger zerolog.Logger) *Router {
	return &Router{
		checker: checker,
		runtime: runtime,
		legacy:  legacy,
		logger:  logger.With().Str("component", "runtime_router").Logger(),
	}
}

// Run executes one conversation turn. The returned error is non-nil only when
// both the runtime path and its one-level fallback failed; that is the single
// hard-failure case callers see.
func (r *Router) Run(ctx context.Context, agentID, message string, onChunk StreamCallback) (*TurnResult, error) {
	enabled, err := r.checker.HasToolsEnabled(ctx, agentID)
	if err != nil {
		r.logger.Warn().
			Str("agent_id", agentID).
			Err(err).
			Msg("Capability check failed; failing open to legacy strategy")
		enabled = false
	}

	if !enabled {
		r.logger.Debug().
			Str("agent_id", agentID).
			Str("strategy", r.legacy.Name()).
			Msg("Routing turn")
		return r.legacy.Execute(ctx, agentID, message, onChunk)
	}

	r.logger.Debug().
		Str("agent_id", agentID).
		Str("strategy", r.runtime.Name()).
		Msg("Routing turn")

	result, runtimeErr := r.runtime.Execute(ctx, agentID, message, onChunk)
	if runtimeErr == nil {
		return result, nil
	}

	r.logger.Warn().
		Str("agent_id", agentID).
		Err(runtimeErr).
		Msg("Runtime strategy failed; falling back to legacy strategy")

	result, legacyErr := r.legacy.Execute(ctx, agentID, message, onChunk)
	if legacyErr != nil {
		return nil, fmt.Errorf("runtime strategy failed (%v); legacy fallback failed: %w", runtimeErr, legacyErr)
	}
	return result, nil
}
