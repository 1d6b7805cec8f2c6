package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/vutler/agentd/llm"
	"github.com/vutler/agentd/memory"
)

// RegisterMemoryTools registers the memory tools backed by a memory.Store,
// giving the model direct store/recall/search access to its own memories.
func (r *Registry) RegisterMemoryTools(store *memory.Store) {
	r.logger.Info().Msg("Registering memory tools")

	r.Register(llm.ToolSpec{
		Name:        "store_memory",
		Description: "Store a new memory for the agent",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The memory content to store",
				},
				"memory_type": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"fact", "conversation", "decision", "observation", "learning"},
					"description": "Type of memory",
				},
				"importance": map[string]interface{}{
					"type":        "number",
					"description": "Importance level 1-10 (default: 5)",
				},
				"tags": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Tags for categorization (optional)",
				},
			},
			Required: []string{"content", "memory_type"},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Content    string   `json:"content"`
			MemoryType string   `json:"memory_type"`
			Importance int      `json:"importance"`
			Tags       []string `json:"tags"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		if strings.TrimSpace(payload.Content) == "" {
			return nil, fmt.Errorf("content cannot be empty")
		}

		var metadata map[string]interface{}
		if len(payload.Tags) > 0 {
			metadata = map[string]interface{}{"tags": payload.Tags}
		}

		id := store.Save(ctx, agentID, payload.MemoryType, payload.Content, payload.Importance, metadata)
		if id == "" {
			return nil, fmt.Errorf("failed to store memory")
		}
		return map[string]any{
			"success": true,
			"memory": map[string]any{
				"id":          id,
				"memory_type": payload.MemoryType,
				"content":     payload.Content,
			},
		}, nil
	})

	r.Register(llm.ToolSpec{
		Name:        "recall_memories",
		Description: "Recall memories based on query/context",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Query text for relevance ranking (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Max number of memories to recall (default: 5)",
				},
			},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		if payload.Limit == 0 {
			payload.Limit = 5
		}

		records := store.Recall(ctx, agentID, payload.Query, payload.Limit)
		return map[string]any{
			"success":  true,
			"memories": recordsToResults(records),
			"count":    len(records),
		}, nil
	})

	r.Register(llm.ToolSpec{
		Name:        "search_memories",
		Description: "Search memories by keyword",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"keyword": map[string]interface{}{
					"type":        "string",
					"description": "Keyword to search in content (optional)",
				},
				"memory_type": map[string]interface{}{
					"type":        "string",
					"description": "Filter by memory type (optional)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Max results (default: 10)",
				},
			},
		},
	}, func(ctx context.Context, agentID string, args json.RawMessage) (any, error) {
		var payload struct {
			Keyword    string `json:"keyword"`
			MemoryType string `json:"memory_type"`
			Limit      int    `json:"limit"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}

		records := store.Search(ctx, agentID, payload.Keyword, payload.MemoryType, payload.Limit)
		return map[string]any{
			"success":  true,
			"memories": recordsToResults(records),
			"count":    len(records),
		}, nil
	})
}

func recordsToResults(records []memory.Record) []map[string]any {
	return lo.Map(records, func(rec memory.Record, _ int) map[string]any {
		out := map[string]any{
			"id":          rec.ID,
			"memory_type": rec.Type,
			"content":     rec.Content,
			"importance":  rec.Importance,
			"created_at":  rec.CreatedAt.Unix(),
		}
		if rec.Metadata != nil {
			out["metadata"] = rec.Metadata
		}
		return out
	})
}
