// Package gemini adapts the official Google Generative AI SDK to the
// agent.LLMClient and agent.StreamLLMClient interfaces.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/message"
)

// Config holds Gemini provider configuration.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// DefaultConfig returns the default Gemini configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

var (
	_ agent.LLMClient       = (*Provider)(nil)
	_ agent.StreamLLMClient = (*Provider)(nil)
)

// Provider implements the LLMClient interface for Google Gemini.
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a new Gemini provider. The context is only used to set up
// the underlying client.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Provider{
		config: config,
		client: client,
	}, nil
}

// Close releases the underlying API client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Generate implements agent.LLMClient.
func (p *Provider) Generate(ctx context.Context, messages []*message.Message, tools []map[string]any) (*message.Message, error) {
	session, last, err := p.prepare(messages, tools)
	if err != nil {
		return nil, err
	}

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: send message: %w", err)
	}
	reply := message.NewMessage(message.RoleAssistant, "")
	reply.Content = collectParts(resp, reply)
	return reply, nil
}

// GenerateStream implements agent.StreamLLMClient. Text arrives as
// incremental deltas; the final step carries the complete assistant
// message including any function calls.
func (p *Provider) GenerateStream(ctx context.Context, req *agent.GenerateRequest) iter.Seq2[*agent.GenerateResponse, error] {
	return func(yield func(*agent.GenerateResponse, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("gemini: stream request is nil"))
			return
		}
		session, last, err := p.prepare(req.Messages, req.Tools)
		if err != nil {
			yield(nil, err)
			return
		}

		final := message.NewMessage(message.RoleAssistant, "")
		var content strings.Builder

		stream := session.SendMessageStream(ctx, last.Parts...)
		for {
			resp, err := stream.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				yield(nil, fmt.Errorf("gemini: stream: %w", err))
				return
			}
			delta := collectParts(resp, final)
			if delta != "" {
				content.WriteString(delta)
				if !yield(&agent.GenerateResponse{Delta: delta}, nil) {
					return
				}
			}
		}

		final.Content = content.String()
		yield(&agent.GenerateResponse{Message: final}, nil)
	}
}

// SetTemperature updates the temperature setting.
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = float32(temp)
}

// SetMaxTokens updates the max tokens setting.
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = int(max)
}

// SetModel updates the model.
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}

// prepare builds the chat session and splits off the message to send.
// System messages become the model's system instruction.
func (p *Provider) prepare(messages []*message.Message, tools []map[string]any) (*genai.ChatSession, *genai.Content, error) {
	model := p.client.GenerativeModel(p.config.Model)
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.config.MaxTokens))
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == message.RoleSystem {
			system = append(system, msg.Text())
			continue
		}
		if content := convertMessage(msg); content != nil {
			contents = append(contents, content)
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}
	if len(tools) > 0 {
		model.Tools = convertTools(tools)
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("gemini: no messages to send")
	}

	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	return session, contents[len(contents)-1], nil
}

// convertMessage maps one transcript message to a Gemini content entry.
// Gemini function calls carry no ids, so tool responses are matched by
// name; the provider sets ToolCall.ID to the function name when parsing.
func convertMessage(msg *message.Message) *genai.Content {
	switch msg.Role {
	case message.RoleUser:
		if msg.Text() == "" {
			return nil
		}
		return &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Text())}}
	case message.RoleAssistant:
		parts := make([]genai.Part, 0, 1+len(msg.ToolCalls))
		if msg.Text() != "" {
			parts = append(parts, genai.Text(msg.Text()))
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Args
			if args == nil {
				args = map[string]any{}
			}
			parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
		}
		if len(parts) == 0 {
			return nil
		}
		return &genai.Content{Role: "model", Parts: parts}
	case message.RoleTool:
		payload := map[string]any{}
		if err := json.Unmarshal([]byte(msg.Text()), &payload); err != nil {
			payload = map[string]any{"result": msg.Text()}
		}
		return &genai.Content{
			Role:  "function",
			Parts: []genai.Part{genai.FunctionResponse{Name: msg.ToolID, Response: payload}},
		}
	default:
		return nil
	}
}

// collectParts appends the response's function calls to the reply and
// returns the text the response carried.
func collectParts(resp *genai.GenerateContentResponse, reply *message.Message) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				text.WriteString(string(v))
			case genai.FunctionCall:
				reply.ToolCalls = append(reply.ToolCalls, message.ToolCall{
					ID:   v.Name,
					Name: v.Name,
					Args: v.Args,
				})
			}
		}
	}
	return text.String()
}

func convertTools(tools []map[string]any) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, schema := range tools {
		fn, _ := schema["function"].(map[string]any)
		if fn == nil {
			continue
		}
		decl := &genai.FunctionDeclaration{}
		if name, ok := fn["name"].(string); ok {
			decl.Name = name
		}
		if desc, ok := fn["description"].(string); ok {
			decl.Description = desc
		}
		if parameters, ok := fn["parameters"].(map[string]any); ok {
			decl.Parameters = toSchema(parameters)
		}
		declarations = append(declarations, decl)
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toSchema converts a JSON schema fragment to Gemini's typed schema.
func toSchema(raw map[string]any) *genai.Schema {
	schema := &genai.Schema{}
	if typ, ok := raw["type"].(string); ok {
		schema.Type = schemaType(typ)
	}
	if desc, ok := raw["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := raw["enum"].([]string); ok {
		schema.Enum = enum
	} else if enumAny, ok := raw["enum"].([]any); ok {
		for _, v := range enumAny {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toSchema(propMap)
			}
		}
	}
	if required, ok := raw["required"].([]string); ok {
		schema.Required = required
	} else if requiredAny, ok := raw["required"].([]any); ok {
		for _, v := range requiredAny {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		schema.Items = toSchema(items)
	}
	return schema
}

func schemaType(typ string) genai.Type {
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
