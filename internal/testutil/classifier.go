package testutil

import (
	"context"
	"fmt"
	"sync"

	"sfo-go/internal/sfo"
)

// StubClassifier returns a fixed result, or per-path overrides.
type StubClassifier struct {
	mu      sync.Mutex
	Default sfo.ClassificationResult
	ByPath  map[string]sfo.ClassificationResult
	Err     error
	Calls   int
}

var _ sfo.Classifier = (*StubClassifier)(nil)

// NewStubClassifier classifies every file as category/subcategory.
func NewStubClassifier(category, subcategory string) *StubClassifier {
	return &StubClassifier{
		Default: sfo.ClassificationResult{
			Category:    category,
			Subcategory: subcategory,
			Confidence:  1.0,
			Tier:        sfo.TierMetadata,
		},
		ByPath: make(map[string]sfo.ClassificationResult),
	}
}

func (c *StubClassifier) Classify(_ context.Context, path string) (*sfo.ClassificationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	if r, ok := c.ByPath[path]; ok {
		return &r, nil
	}
	r := c.Default
	return &r, nil
}

// StubTextClassifier is a controllable deep or fallback tier.
type StubTextClassifier struct {
	NameValue string
	Up        bool
	Result    *sfo.ClassificationResult
	Err       error
	Calls     int
}

var _ sfo.TextClassifier = (*StubTextClassifier)(nil)

func (c *StubTextClassifier) Name() string {
	if c.NameValue == "" {
		return "stub"
	}
	return c.NameValue
}

func (c *StubTextClassifier) Available() bool { return c.Up }

func (c *StubTextClassifier) Classify(_ context.Context, text string) (*sfo.ClassificationResult, error) {
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Result == nil {
		return nil, nil
	}
	r := *c.Result
	return &r, nil
}

// StubExtractor returns canned text per path.
type StubExtractor struct {
	Text map[string]string
}

var _ sfo.TextExtractor = (*StubExtractor)(nil)

func (e *StubExtractor) Extract(path string) (string, error) {
	if e.Text == nil {
		return "", nil
	}
	t, ok := e.Text[path]
	if !ok {
		return "", fmt.Errorf("no text for %s", path)
	}
	return t, nil
}
