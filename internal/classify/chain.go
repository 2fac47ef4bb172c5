package classify

import (
	"context"
	"errors"

	"sfo-go/internal/sfo"
)

// ChainConfig selects the tiers of a Chain. Nil tiers are skipped.
type ChainConfig struct {
	Rules     *RuleSet
	Metadata  bool
	Content   bool
	Extractor sfo.TextExtractor
	Deep      sfo.TextClassifier
	Fallback  sfo.TextClassifier
}

// Chain runs the classification tiers in order and stops at the first
// result that does not ask for deeper analysis.
type Chain struct {
	rules     *RuleClassifier
	metadata  *MetadataClassifier
	content   *ContentClassifier
	extractor sfo.TextExtractor
	models    []sfo.TextClassifier
	logger    sfo.Logger
}

var _ sfo.Classifier = (*Chain)(nil)

// NewChain creates a Chain from cfg.
func NewChain(cfg ChainConfig, logger sfo.Logger) *Chain {
	c := &Chain{
		extractor: cfg.Extractor,
		logger:    sfo.With(logger, "component", "classify"),
	}
	if cfg.Rules != nil {
		c.rules = NewRuleClassifier(cfg.Rules)
	}
	if cfg.Metadata {
		c.metadata = NewMetadataClassifier(logger)
	}
	if cfg.Content {
		c.content = NewContentClassifier()
	}
	for _, m := range []sfo.TextClassifier{cfg.Deep, cfg.Fallback} {
		if m != nil {
			c.models = append(c.models, m)
		}
	}
	return c
}

// Classify returns the final verdict for path. Sensitivity is sticky: once
// any tier marks the file sensitive, the returned result is sensitive.
func (c *Chain) Classify(ctx context.Context, path string) (*sfo.ClassificationResult, error) {
	if c.rules != nil {
		r, err := c.rules.Classify(ctx, path)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}

	result := &sfo.ClassificationResult{
		Category:            sfo.CategoryUnknown,
		Confidence:          0.5,
		Tier:                sfo.TierMetadata,
		NeedsDeeperAnalysis: true,
	}
	if c.metadata != nil {
		r, err := c.metadata.Classify(ctx, path)
		if err != nil {
			return nil, err
		}
		result = r
	}
	if !result.NeedsDeeperAnalysis {
		return result, nil
	}

	text, err := c.text(path)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return result, nil
	}

	if c.content != nil {
		if r := c.content.Classify(text); r != nil {
			result = merge(result, r)
			if !result.NeedsDeeperAnalysis {
				return result, nil
			}
		}
	}

	for _, m := range c.models {
		if !m.Available() {
			continue
		}
		r, err := m.Classify(ctx, text)
		if err != nil {
			c.logger.Warn("model tier failed", "tier", m.Name(), "path", path, "error", err)
			continue
		}
		if r == nil {
			continue
		}
		result = merge(result, r)
		if !result.NeedsDeeperAnalysis {
			break
		}
	}
	return result, nil
}

// text extracts document text for the content and model tiers.
// Extraction failures other than a vanished file leave the text empty.
func (c *Chain) text(path string) (string, error) {
	if c.extractor == nil || (c.content == nil && len(c.models) == 0) {
		return "", nil
	}
	text, err := c.extractor.Extract(path)
	if err != nil {
		if errors.Is(err, sfo.ErrFileVanished) {
			return "", err
		}
		c.logger.Debug("text extraction failed", "path", path, "error", err)
		return "", nil
	}
	return text, nil
}

// merge returns next, carrying forward prev's sensitivity and any metadata
// keys next does not set.
func merge(prev, next *sfo.ClassificationResult) *sfo.ClassificationResult {
	out := *next
	out.IsSensitive = prev.IsSensitive || next.IsSensitive
	if len(prev.Metadata) > 0 {
		meta := make(map[string]string, len(prev.Metadata)+len(next.Metadata))
		for k, v := range prev.Metadata {
			meta[k] = v
		}
		for k, v := range next.Metadata {
			meta[k] = v
		}
		out.Metadata = meta
	}
	return &out
}
