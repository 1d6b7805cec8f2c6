package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vutler/agentd/identity"
	"github.com/vutler/agentd/memory"
	"github.com/vutler/agentd/tasks"
)

// recallLimit is how many memories are surfaced into a prompt.
const recallLimit = 5

// IdentityProvider resolves an agent's identity config.
type IdentityProvider interface {
	Get(ctx context.Context, agentID string) (*identity.Config, error)
}

// MemoryRecaller retrieves an agent's relevant memories. Recall never fails;
// it degrades to an empty slice.
type MemoryRecaller interface {
	Recall(ctx context.Context, agentID, query string, limit int) []memory.Record
}

// TaskLister returns an agent's open tasks.
type TaskLister interface {
	OpenForAgent(ctx context.Context, agentID string) ([]tasks.Task, error)
}

// Assembler builds the deterministic system prompt for an agent turn from
// identity, recalled memories, and assigned tasks. Build never returns an
// error: each data source degrades independently, and a total identity
// failure falls back to a minimal static prompt.
type Assembler struct {
	identities IdentityProvider
	memories   MemoryRecaller
	tasks      TaskLister
	logger     zerolog.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(identities IdentityProvider, memories MemoryRecaller, taskLister TaskLister, logger zerolog.Logger) *Assembler {
	return &Assembler{
		identities: identities,
		memories:   memories,
		tasks:      taskLister,
		logger:     logger.With().Str("component", "prompt_assembler").Logger(),
	}
}

// Build assembles the system prompt for an agent. userMessage is forwarded to
// memory recall as ranking context. The three fetches run concurrently; the
// output ordering is fixed regardless of completion order.
func (a *Assembler) Build(ctx context.Context, agentID, userMessage string) string {
	var (
		cfg    *identity.Config
		cfgErr error
		mems   []memory.Record
		open   []tasks.Task
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		cfg, cfgErr = a.identities.Get(ctx, agentID)
	}()
	go func() {
		defer wg.Done()
		mems = a.memories.Recall(ctx, agentID, userMessage, recallLimit)
	}()
	go func() {
		defer wg.Done()
		var err error
		open, err = a.tasks.OpenForAgent(ctx, agentID)
		if err != nil {
			a.logger.Warn().
				Str("agent_id", agentID).
				Err(err).
				Msg("Task fetch failed; omitting tasks section")
			open = nil
		}
	}()
	wg.Wait()

	if cfgErr != nil || cfg == nil {
		a.logger.Warn().
			Str("agent_id", agentID).
			Err(cfgErr).
			Msg("Identity resolution failed; returning minimal prompt")
		return minimalPrompt()
	}

	return assemble(cfg, mems, open)
}

// assemble renders all sections in their fixed order. Sections with no data
// are omitted entirely. The layout is the model-facing contract; changing it
// changes agent behavior.
func assemble(cfg *identity.Config, mems []memory.Record, open []tasks.Task) string {
	parts := []string{}

	name := cfg.Name
	if name == "" {
		name = "Agent"
	}
	role := cfg.Role
	if role == "" {
		role = "AI Assistant"
	}

	parts = append(parts, "# Agent Identity")
	parts = append(parts, "Name: "+name)
	parts = append(parts, "Role: "+role)
	if cfg.Personality != "" {
		parts = append(parts, "Personality: "+cfg.Personality)
	}

	workspaceID := cfg.WorkspaceID
	if workspaceID == "" {
		workspaceID = memory.DefaultWorkspaceID
	}
	parts = append(parts, "\nCurrent DateTime: "+time.Now().UTC().Format(time.RFC3339))
	parts = append(parts, "Workspace ID: "+workspaceID)

	if cfg.Soul != "" {
		parts = append(parts, "\n# Core Identity (SOUL)")
		parts = append(parts, cfg.Soul)
	}

	if len(cfg.Capabilities) > 0 {
		parts = append(parts, "\n# Capabilities")
		parts = append(parts, strings.Join(cfg.Capabilities, ", "))
	}

	if len(mems) > 0 {
		parts = append(parts, "\n# Recent Memories")
		for i, m := range mems {
			parts = append(parts, fmt.Sprintf("[%d] %s: %s", i+1, m.Type, m.Content))
		}
	}

	if len(open) > 0 {
		parts = append(parts, "\n# Your Current Tasks")
		for i, t := range open {
			due := ""
			if t.DueDate != nil {
				due = " (due: " + t.DueDate.UTC().Format("2006-01-02") + ")"
			}
			parts = append(parts, fmt.Sprintf("[%d] %s%s - %s [%s]", i+1, t.Title, due, t.Status, t.Priority))
			if t.Description != "" {
				parts = append(parts, "    "+t.Description)
			}
		}
	}

	if cfg.PromptTemplate != "" {
		parts = append(parts, "\n# Instructions")
		parts = append(parts, cfg.PromptTemplate)
	}

	parts = append(parts, "\n# Tool Usage")
	parts = append(parts, "You have access to various tools. Use them proactively to accomplish tasks.")
	parts = append(parts, "Always think step-by-step and use the appropriate tool for each action.")
	parts = append(parts, "If a tool fails, try an alternative approach or inform the user gracefully.")

	return strings.Join(parts, "\n")
}

// minimalPrompt is the last-resort contract callers may depend on when
// identity cannot be resolved at all.
func minimalPrompt() string {
	return "You are an AI agent assistant. Current time: " + time.Now().UTC().Format(time.RFC3339)
}
