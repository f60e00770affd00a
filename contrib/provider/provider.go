// Package provider assembles concrete inference clients by name, so
// callers can pick a vendor through configuration instead of imports.
package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/stallwart/switchboard/agent"
	"github.com/stallwart/switchboard/contrib/provider/claude"
	"github.com/stallwart/switchboard/contrib/provider/cohere"
	"github.com/stallwart/switchboard/contrib/provider/gemini"
	"github.com/stallwart/switchboard/contrib/provider/groq"
	"github.com/stallwart/switchboard/contrib/provider/openai"
)

// New builds the named provider with the given API key. Known names:
// openai, claude, gemini, groq, cohere.
func New(ctx context.Context, name, apiKey string) (agent.LLMClient, error) {
	switch name {
	case "openai":
		return openai.New(openai.DefaultConfig().WithAPIKey(apiKey)), nil
	case "claude":
		return claude.New(claude.DefaultConfig(apiKey, "")), nil
	case "gemini":
		return gemini.New(ctx, gemini.DefaultConfig(apiKey))
	case "groq":
		return groq.New(groq.DefaultConfig(apiKey)), nil
	case "cohere":
		return cohere.New(cohere.DefaultConfig(apiKey)), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// FromEnv builds the provider named by SWITCHBOARD_PROVIDER (default
// openai), reading each vendor's conventional key variable.
func FromEnv(ctx context.Context) (agent.LLMClient, error) {
	name := os.Getenv("SWITCHBOARD_PROVIDER")
	if name == "" {
		name = "openai"
	}
	return New(ctx, name, keyFromEnv(name))
}

func keyFromEnv(name string) string {
	switch name {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	case "cohere":
		return os.Getenv("COHERE_API_KEY")
	default:
		return ""
	}
}
