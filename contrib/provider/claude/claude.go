// Package claude adapts the official Anthropic SDK to the
// agent.LLMClient and agent.StreamLLMClient interfaces.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/message"
)

// Config holds Claude provider configuration.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns the default Claude configuration.
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

var (
	_ agent.LLMClient       = (*Provider)(nil)
	_ agent.StreamLLMClient = (*Provider)(nil)
)

// Provider implements the LLMClient interface for Claude.
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig("", "")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5-20250929"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, messages []*message.Message, tools []map[string]any) (*message.Message, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	apiMessage, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: message create: %w", err)
	}
	return extractMessage(apiMessage)
}

// GenerateStream implements agent.StreamLLMClient. Text arrives as
// incremental deltas; the final step carries the accumulated assistant
// message including any tool uses.
func (p *Provider) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*agent.GenerateResponse, error] {
	return func(yield func(*agent.GenerateResponse, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("claude: stream request is nil"))
			return
		}
		params, err := p.buildParams(req.Messages, req.Tools)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		// Accumulate rebuilds the complete message, including tool-use
		// inputs that stream in as partial JSON deltas.
		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("claude: accumulate stream event: %w", err))
				return
			}
			if event.Type == "content_block_delta" {
				contentDelta := event.AsContentBlockDelta()
				if contentDelta.Delta.Type == "text_delta" && contentDelta.Delta.Text != "" {
					if !yield(&agent.GenerateResponse{Delta: contentDelta.Delta.Text}, nil) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("claude: stream: %w", err))
			return
		}

		final, err := extractMessage(&acc)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&agent.GenerateResponse{Message: final}, nil)
	}
}

// SetTemperature updates the temperature setting.
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetMaxTokens updates the max tokens setting.
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = max
}

// SetModel updates the model.
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}

// buildParams converts the transcript to Anthropic's shape. System
// messages move to the system field; tool responses travel as
// tool_result blocks inside user messages.
func (p *Provider) buildParams(messages []*message.Message, tools []map[string]any) (anthropic.MessageNewParams, error) {
	var systemPrompts []string
	conversation := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text())))
		case message.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Text() != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Text()))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, anthropic.NewAssistantMessage(blocks...))
		case message.RoleTool:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolID, msg.Text(), false)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: p.config.MaxTokens,
	}

	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}

	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}

	if len(tools) > 0 {
		claudeTools := make([]anthropic.ToolUnionParam, 0, len(tools))
		for _, tool := range tools {
			fn, _ := tool["function"].(map[string]any)
			if fn == nil {
				continue
			}
			toolJSON, err := json.Marshal(map[string]any{
				"name":         fn["name"],
				"description":  fn["description"],
				"input_schema": fn["parameters"],
			})
			if err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("claude: marshal tool: %w", err)
			}
			var toolParam anthropic.ToolParam
			if err := json.Unmarshal(toolJSON, &toolParam); err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("claude: unmarshal tool param: %w", err)
			}
			claudeTools = append(claudeTools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = claudeTools
	}

	return params, nil
}

// extractMessage flattens the content blocks of an API message into the
// module's message type.
func extractMessage(apiMessage *anthropic.Message) (*message.Message, error) {
	var text strings.Builder
	var toolCalls []message.ToolCall

	for _, content := range apiMessage.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			args := map[string]any{}
			if len(content.Input) > 0 {
				if err := json.Unmarshal(content.Input, &args); err != nil {
					return nil, fmt.Errorf("claude: parse tool input: %w", err)
				}
			}
			toolCalls = append(toolCalls, message.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}

	responseMsg := message.NewMessage(message.RoleAssistant, text.String())
	if len(toolCalls) > 0 {
		responseMsg.ToolCalls = toolCalls
	}
	return responseMsg, nil
}
