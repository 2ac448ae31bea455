package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	iriscore "github.com/petal-labs/iris/core"
	"github.com/petal-labs/iris/providers"
	anthropicprovider "github.com/petal-labs/iris/providers/anthropic"
	ollamaprovider "github.com/petal-labs/iris/providers/ollama"
	openaiprovider "github.com/petal-labs/iris/providers/openai"

	"github.com/sorryhyun/DiPeO-sub018/services"
)

// irisLLM adapts iris's provider registry to services.LLMPort, caching one
// provider instance per (name, apiKey, baseURL) combination so repeated
// activations of the same person don't reconnect every time.
type irisLLM struct {
	baseURLs map[string]string

	mu    sync.Mutex
	cache map[string]providers.Provider
}

// newIrisLLM creates an LLMPort. baseURLs optionally overrides a provider's
// default endpoint (e.g. "openai" -> a self-hosted gateway), keyed by the
// lowercased provider name.
func newIrisLLM(baseURLs map[string]string) *irisLLM {
	return &irisLLM{baseURLs: baseURLs, cache: make(map[string]providers.Provider)}
}

func (l *irisLLM) provider(name, apiKey string) (providers.Provider, error) {
	key := strings.ToLower(name) + "\x00" + apiKey
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.cache[key]; ok {
		return p, nil
	}
	p, err := createProvider(name, apiKey, l.baseURLs[strings.ToLower(name)])
	if err != nil {
		return nil, err
	}
	l.cache[key] = p
	return p, nil
}

func createProvider(name, apiKey, baseURL string) (providers.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		var opts []openaiprovider.Option
		if baseURL != "" {
			opts = append(opts, openaiprovider.WithBaseURL(baseURL))
		}
		return openaiprovider.New(apiKey, opts...), nil
	case "anthropic":
		var opts []anthropicprovider.Option
		if baseURL != "" {
			opts = append(opts, anthropicprovider.WithBaseURL(baseURL))
		}
		return anthropicprovider.New(apiKey, opts...), nil
	case "ollama":
		var opts []ollamaprovider.Option
		if apiKey != "" {
			opts = append(opts, ollamaprovider.WithAPIKey(apiKey))
		}
		if baseURL != "" {
			opts = append(opts, ollamaprovider.WithBaseURL(baseURL))
		}
		return ollamaprovider.New(opts...), nil
	default:
		return providers.Create(strings.ToLower(name), apiKey)
	}
}

func (l *irisLLM) Complete(ctx context.Context, req services.LLMRequest) (services.LLMResult, error) {
	p, err := l.provider(req.Provider, req.APIKey)
	if err != nil {
		return services.LLMResult{}, fmt.Errorf("creating provider %q: %w", req.Provider, err)
	}

	messages := make([]iriscore.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, iriscore.Message{Role: toIrisRole(m.Role), Content: m.Content})
	}

	resp, err := p.Chat(ctx, &iriscore.ChatRequest{Model: iriscore.ModelID(req.Model), Messages: messages})
	if err != nil {
		return services.LLMResult{}, fmt.Errorf("provider chat failed: %w", err)
	}

	return services.LLMResult{
		Text: resp.Output,
		Usage: services.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
		},
	}, nil
}

func toIrisRole(role string) iriscore.Role {
	switch role {
	case "system":
		return iriscore.RoleSystem
	case "assistant":
		return iriscore.RoleAssistant
	case "tool":
		return iriscore.RoleTool
	default:
		return iriscore.RoleUser
	}
}

var _ services.LLMPort = (*irisLLM)(nil)
