// Package providers registers the concrete LLM provider constructors with
// the llm factory. Import for side effects from the process entry point.
package providers

import (
	"pedagogue/pkg/config"
	"pedagogue/pkg/llm"
	"pedagogue/pkg/llm/anthropic"
	"pedagogue/pkg/llm/ollama"
	"pedagogue/pkg/llm/openai"
)

func init() { //nolint:gochecknoinits // Registration mirrors database/sql driver wiring
	llm.RegisterProvider(config.ProviderAnthropic, func(cfg config.LLMConfig) llm.Client {
		return anthropic.NewClient(cfg.APIKey, cfg.Model)
	})
	llm.RegisterProvider(config.ProviderOpenAI, func(cfg config.LLMConfig) llm.Client {
		return openai.NewClient(cfg.APIKey, cfg.Model)
	})
	llm.RegisterProvider(config.ProviderOllama, func(cfg config.LLMConfig) llm.Client {
		return ollama.NewClient(cfg.OllamaHost, cfg.Model)
	})
}
