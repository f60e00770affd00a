// Package openai adapts the official OpenAI SDK to the agent.LLMClient
// and agent.StreamLLMClient interfaces.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/message"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// WithBaseURL sets the base URL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithAPIKey sets the API key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithModel sets the model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// DefaultConfig returns the default OpenAI configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

var (
	_ agent.LLMClient       = (*Provider)(nil)
	_ agent.StreamLLMClient = (*Provider)(nil)
)

// Provider implements the LLMClient interface for OpenAI.
type Provider struct {
	config *Config
	client openai.Client
}

// New creates a new OpenAI provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, messages []*message.Message, tools []map[string]any) (*message.Message, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := completion.Choices[0]
	reply := message.NewMessage(message.RoleAssistant, choice.Message.Content)
	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]message.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			args, err := parseArguments(tc.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("openai: tool %s arguments: %w", tc.Function.Name, err)
			}
			calls = append(calls, message.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			})
		}
		reply.ToolCalls = calls
	}
	return reply, nil
}

// GenerateStream implements agent.StreamLLMClient. Content arrives as
// incremental deltas; the final step carries the complete assistant
// message including any tool calls.
func (p *Provider) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*agent.GenerateResponse, error] {
	return func(yield func(*agent.GenerateResponse, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("openai: stream request is nil"))
			return
		}
		params, err := p.buildParams(req.Messages, req.Tools)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var content strings.Builder
		var calls []aggregatedCall
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				content.WriteString(delta.Content)
				if !yield(&agent.GenerateResponse{Delta: delta.Content}, nil) {
					return
				}
			}

			// Tool call fragments are keyed by index; the argument JSON
			// arrives split across chunks and is only parseable once the
			// stream ends.
			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				for len(calls) <= idx {
					calls = append(calls, aggregatedCall{})
				}
				if tc.ID != "" {
					calls[idx].id = tc.ID
				}
				if tc.Function.Name != "" {
					calls[idx].name = tc.Function.Name
				}
				calls[idx].args += tc.Function.Arguments
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("openai: stream: %w", err))
			return
		}

		final := message.NewMessage(message.RoleAssistant, content.String())
		if len(calls) > 0 {
			toolCalls := make([]message.ToolCall, 0, len(calls))
			for _, call := range calls {
				args, err := parseArguments(call.args)
				if err != nil {
					yield(nil, fmt.Errorf("openai: tool %s arguments: %w", call.name, err))
					return
				}
				toolCalls = append(toolCalls, message.ToolCall{
					ID:   call.id,
					Name: call.name,
					Args: args,
				})
			}
			final.ToolCalls = toolCalls
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

// aggregatedCall collects the id, name, and argument fragments one tool
// call streams in across chunks.
type aggregatedCall struct {
	id   string
	name string
	args string
}

func (p *Provider) buildParams(messages []*message.Message, tools []map[string]any) (openai.ChatCompletionNewParams, error) {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case message.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Text()))
		case message.RoleUser:
			converted = append(converted, openai.UserMessage(msg.Text()))
		case message.RoleAssistant:
			assistantMsg := openai.AssistantMessage(msg.Text())
			if msg.HasToolCalls() {
				toolCalls, err := encodeToolCalls(msg.ToolCalls)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: encode tool calls: %w", err)
				}
				if assistantMsg.OfAssistant != nil {
					assistantMsg.OfAssistant.ToolCalls = toolCalls
				}
			}
			converted = append(converted, assistantMsg)
		case message.RoleTool:
			converted = append(converted, openai.ToolMessage(msg.Text(), msg.ToolID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params, nil
}

func convertTools(tools []map[string]any) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, schema := range tools {
		fn, _ := schema["function"].(map[string]any)
		if fn == nil {
			continue
		}
		var def openai.FunctionDefinitionParam
		if name, ok := fn["name"].(string); ok {
			def.Name = name
		}
		if desc, ok := fn["description"].(string); ok && desc != "" {
			def.Description = param.NewOpt(desc)
		}
		if parameters, ok := fn["parameters"].(map[string]any); ok {
			def.Parameters = openai.FunctionParameters(parameters)
		}
		out = append(out, openai.ChatCompletionFunctionTool(def))
	}
	return out
}

func encodeToolCalls(calls []message.ToolCall) ([]openai.ChatCompletionMessageToolCallUnionParam, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Args
		if args == nil {
			args = make(map[string]any)
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			},
		})
	}
	return params, nil
}

func parseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
