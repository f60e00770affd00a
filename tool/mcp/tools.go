package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/stallwart/switchboard/tool"
)

// ToolError reports a call the MCP server completed but flagged as
// failed. Message carries whatever content the server sent back.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Name, e.Message)
}

// ListTools fetches one page of tool definitions from the server.
func (c *Client) ListTools(ctx context.Context, cursor string) (*sdkmcp.ListToolsResult, error) {
	if c.session == nil {
		return nil, ErrClientClosed
	}
	params := &sdkmcp.ListToolsParams{}
	if cursor != "" {
		params.Cursor = cursor
	}
	return c.session.ListTools(ctx, params)
}

// ListAllTools walks cursor pagination until the server reports no
// further pages.
func (c *Client) ListAllTools(ctx context.Context) ([]*sdkmcp.Tool, error) {
	var (
		all    []*sdkmcp.Tool
		cursor string
	)
	for {
		res, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, res.Tools...)
		cursor = res.NextCursor
		if cursor == "" {
			return all, nil
		}
	}
}

// CallTool invokes a remote tool and flattens its response content into
// text. Failures the server reports in-band come back as *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	if c.session == nil {
		return "", ErrClientClosed
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "no error detail provided"
		}
		return "", &ToolError{Name: name, Message: text}
	}
	return text, nil
}

// BuildTools mirrors the server's tool list as local registrations.
// Each handler proxies its invocation back over the session, so agents
// call remote tools exactly like built-in ones.
func (c *Client) BuildTools(ctx context.Context) ([]*tool.Tool, error) {
	defs, err := c.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]*tool.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		tools = append(tools, c.convertTool(def))
	}
	return tools, nil
}

func (c *Client) convertTool(def *sdkmcp.Tool) *tool.Tool {
	description := def.Description
	if description == "" && def.Annotations != nil {
		description = def.Annotations.Title
	}

	name := def.Name
	return &tool.Tool{
		Name:        name,
		Description: description,
		Parameters:  schemaParameters(def.InputSchema),
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if args == nil {
				args = map[string]interface{}{}
			}
			return c.CallTool(ctx, name, args)
		},
	}
}

// flattenContent reduces mixed MCP content blocks to one string. Text
// blocks pass through; anything else keeps its JSON encoding so the
// model still sees structured results.
func flattenContent(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, block := range content {
		switch v := block.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := block.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// schemaParameters converts an object-typed JSON schema into the flat
// parameter list the local tool contract uses, sorted by name. Nested
// shape below the first level is not preserved.
func schemaParameters(schema any) []tool.Parameter {
	obj := asMap(schema)
	if obj == nil {
		return nil
	}
	if kind, _ := obj["type"].(string); !strings.EqualFold(kind, "object") {
		return nil
	}

	props, ok := obj["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return nil
	}

	required := requiredNames(obj)

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.Parameter, 0, len(names))
	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}

		param := tool.Parameter{
			Name:        name,
			Type:        asString(prop["type"]),
			Description: asString(prop["description"]),
			Default:     prop["default"],
			Required:    required[name],
		}
		if values, ok := asStringList(prop["enum"]); ok {
			param.Enum = values
		}
		if param.Type == "" {
			param.Type = fallbackType(prop)
		}
		params = append(params, param)
	}
	return params
}

func requiredNames(schema map[string]any) map[string]bool {
	list, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	names := make(map[string]bool, len(list))
	for _, item := range list {
		if name, ok := item.(string); ok {
			names[name] = true
		}
	}
	return names
}

// fallbackType guesses a type for properties that omit one; the shape
// of the property is the only hint available.
func fallbackType(prop map[string]any) string {
	if _, ok := prop["items"]; ok {
		return "array"
	}
	if _, ok := prop["properties"]; ok {
		return "object"
	}
	return "string"
}

// asMap coerces a schema value into a generic map. Typed schema structs
// take the marshal round-trip; raw JSON decodes directly.
func asMap(v any) map[string]any {
	switch value := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return value
	case json.RawMessage:
		return unmarshalMap(value)
	case []byte:
		return unmarshalMap(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return unmarshalMap(data)
	}
}

func unmarshalMap(data []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringList(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}
