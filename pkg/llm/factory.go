package llm

import (
	"fmt"

	"pedagogue/pkg/config"
)

// providerConstructors is populated by the provider subpackages through
// RegisterProvider, keeping this package free of SDK imports.
var providerConstructors = map[string]func(cfg config.LLMConfig) Client{} //nolint:gochecknoglobals

// RegisterProvider registers a provider constructor under name. Called from
// provider package init or from wiring code.
func RegisterProvider(name string, constructor func(cfg config.LLMConfig) Client) {
	providerConstructors[name] = constructor
}

// NewClient builds the configured provider client wrapped with timeout and
// retry. The mock provider is always available for tests and dry runs.
func NewClient(cfg config.LLMConfig) (Client, error) {
	var base Client
	if cfg.Provider == config.ProviderMock {
		base = NewMockClient()
	} else {
		constructor, ok := providerConstructors[cfg.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
		}
		base = constructor(cfg)
	}

	retryCfg := DefaultRetryConfig
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}

	wrapped := NewTimeoutClient(base, cfg.Timeout)
	return NewRetryableClient(wrapped, retryCfg), nil
}
