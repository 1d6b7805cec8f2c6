// Package anthropic adapts the Anthropic Messages API to the llm interfaces.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vutler/agentd/llm"
)

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	client *anthropic.Client
	logger zerolog.Logger
}

// NewClient creates an Anthropic-backed llm.Client.
func NewClient(apiKey string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: &client,
		logger: logger.With().Str("component", "anthropic_client").Logger(),
	}, nil
}

// Synchronous implements llm.Client.Synchronous.
func (c *Client) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	message, err := c.client.Messages.New(ctx, toMessageNewParams(req))
	if err != nil {
		return nil, err
	}

	content := make([]llm.ContentBlock, 0, len(message.Content))
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, llm.ContentBlock{
				Type: llm.ContentBlockTypeText,
				Text: block.Text,
			})
		case anthropic.ToolUseBlock:
			content = append(content, llm.ContentBlock{
				Type: llm.ContentBlockTypeToolUse,
				ToolUse: &llm.ToolUseBlock{
					ID:    block.ID,
					Name:  block.Name,
					Input: decodeToolInput(block.Input),
				},
			})
		}
	}

	return &llm.Response{
		Content: content,
		Usage: &llm.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
		StopReason: string(message.StopReason),
	}, nil
}

// Stream implements llm.Client.Stream.
func (c *Client) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	return newStream(c.client.Messages.NewStreaming(ctx, toMessageNewParams(req))), nil
}

func toMessageNewParams(req *llm.Request) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toMessageParams(req.Messages),
		System: []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Tools: toToolParams(req.Tools),
	}
}

func toMessageParams(msgs []llm.Message) []anthropic.MessageParam {
	return lo.Map(msgs, func(msg llm.Message, _ int) anthropic.MessageParam {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case llm.ContentBlockTypeText:
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case llm.ContentBlockTypeToolUse:
				if block.ToolUse != nil {
					blocks = append(blocks, anthropic.NewToolUseBlock(
						block.ToolUse.ID,
						block.ToolUse.Input,
						block.ToolUse.Name,
					))
				}
			case llm.ContentBlockTypeToolResult:
				if block.ToolResult != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(
						block.ToolResult.ID,
						block.ToolResult.Content,
						block.ToolResult.IsError,
					))
				}
			}
		}
		if msg.Role == llm.RoleAssistant {
			return anthropic.NewAssistantMessage(blocks...)
		}
		return anthropic.NewUserMessage(blocks...)
	})
}

func toToolParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: spec.Schema.Properties,
					Required:   spec.Schema.Required,
				},
			},
		}
	})
}

// decodeToolInput round-trips the SDK's opaque input value into a plain map.
func decodeToolInput(raw interface{}) map[string]interface{} {
	input := make(map[string]interface{})
	if raw == nil {
		return input
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return input
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return make(map[string]interface{})
	}
	return input
}
