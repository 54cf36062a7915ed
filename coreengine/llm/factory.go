package llm

import (
	"fmt"
	"os"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
)

// ProviderFactory creates LLM providers by pipeline model role. The default
// deployment maps every role onto one provider; per-role providers (a cheap
// model for intent, a stronger one for synthesis) plug in here without
// touching stage code.
type ProviderFactory func(role string) commbus.LLMProvider

// SingleProviderFactory maps every role onto the same provider.
func SingleProviderFactory(provider commbus.LLMProvider) ProviderFactory {
	return func(role string) commbus.LLMProvider {
		return provider
	}
}

// NewProviderFromConfig builds the configured provider adapter.
func NewProviderFromConfig(cfg config.LLMConfig, logger commbus.Logger) (commbus.LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("llm provider %q: environment variable %s is not set", cfg.Provider, cfg.APIKeyEnv)
		}
		return NewAnthropicProvider(apiKey, cfg.Model, logger), nil
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
