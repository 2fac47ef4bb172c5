package classify

import (
	"fmt"
	"os"

	"sfo-go/internal/config"
	"sfo-go/internal/sfo"
)

// DefaultAPIKeyEnv is read when a model tier does not name its own variable.
const DefaultAPIKeyEnv = "ANTHROPIC_API_KEY"

// NewTextClassifierFromConfig creates a model tier. Type "none" yields nil.
func NewTextClassifierFromConfig(cfg config.ClassifierConfig, mode Mode, maxTextLength int, logger sfo.Logger) (sfo.TextClassifier, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "anthropic":
		env := cfg.APIKeyEnv
		if env == "" {
			env = DefaultAPIKeyEnv
		}
		key := os.Getenv(env)
		if key == "" && logger != nil {
			logger.Warn("model tier disabled: API key not set", "env", env)
		}
		return NewAnthropicClassifier(mode, key, AnthropicOptions{
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			Timeout:       cfg.Timeout.Duration,
			MaxTextLength: maxTextLength,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown classifier type: %s", cfg.Type)
	}
}

// NewChainFromConfig builds the full chain and returns it with its rule set,
// which is nil when the rule tier is disabled.
func NewChainFromConfig(cfg config.ClassificationConfig, extractor sfo.TextExtractor, logger sfo.Logger) (*Chain, *RuleSet, error) {
	var rules *RuleSet
	if cfg.EnableRules {
		rs, err := LoadRuleSet(cfg.RulesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading rules: %w", err)
		}
		rules = rs
	}

	deep, err := NewTextClassifierFromConfig(cfg.Deep, ModeDeep, cfg.MaxTextLength, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("deep tier: %w", err)
	}
	fallback, err := NewTextClassifierFromConfig(cfg.Fallback, ModeZeroShot, cfg.MaxTextLength, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("fallback tier: %w", err)
	}

	return NewChain(ChainConfig{
		Rules:     rules,
		Metadata:  cfg.EnableMetadata,
		Content:   cfg.EnableContent,
		Extractor: extractor,
		Deep:      deep,
		Fallback:  fallback,
	}, logger), rules, nil
}
