// Package llm provides interfaces and implementations for LLM completion clients
package llm

import (
	"context"
	"fmt"
)

// LLMClient defines the interface for interacting with large language models
type LLMClient interface {
	// Complete sends a prompt to the LLM and returns the raw completion text
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSchema sends a prompt and unmarshals the response into the provided schema
	// The schema parameter should be a pointer to the target struct
	CompleteWithSchema(ctx context.Context, prompt string, schema any) error
}

// NewFromConfig builds the concrete LLMClient named by provider. An empty
// provider returns (nil, nil): pkg/classify.Classifier accepts a nil Client
// and degrades every call to its neutral fallback scores, so "no LLM
// configured" is a supported deployment, not an error condition.
func NewFromConfig(provider, model, baseURL, apiKey string) (LLMClient, error) {
	switch provider {
	case "":
		return nil, nil
	case "openai":
		client := NewOpenAILLM(apiKey)
		if model != "" {
			client.Model = model
		}
		if baseURL != "" {
			client.BaseURL = baseURL
		}
		return client, nil
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaClient(baseURL, model), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
}
