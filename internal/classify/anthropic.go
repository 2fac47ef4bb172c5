package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"sfo-go/internal/sfo"
)

// Defaults for the model-backed tiers.
const (
	DefaultModel         = "claude-haiku-4-5"
	DefaultMaxTokens     = 512
	DefaultModelTimeout  = 30 * time.Second
	DefaultMaxTextLength = 2000
)

// Mode selects the prompt an AnthropicClassifier sends.
type Mode int

const (
	// ModeDeep asks for a free-form category, summary and sensitivity verdict.
	ModeDeep Mode = iota
	// ModeZeroShot asks the model to pick one label from a fixed list.
	ModeZeroShot
)

const systemPrompt = `You are an expert file archivist and document classifier.
Your task is to analyze document content and classify it accurately.
You must respond with ONLY valid JSON - no other text, explanations, or formatting.`

const deepPrompt = `Analyze this document excerpt and classify it accurately.

DOCUMENT TEXT:
"""
%s
"""

AVAILABLE CATEGORIES:
- Finance: Tax documents, bank statements, invoices, receipts, financial reports
- Medical: Medical records, prescriptions, lab results, insurance claims
- Legal: Contracts, agreements, legal notices, court documents
- Personal: Personal correspondence, IDs, certificates, personal records
- Work: Work projects, reports, presentations, business documents
- Education: Academic papers, transcripts, certificates, coursework
- Receipts: Purchase receipts, order confirmations
- Insurance: Insurance policies, claims, coverage documents
- Other: Documents that don't fit other categories

Respond with ONLY this JSON structure (no other text):
{
    "category": "category_name",
    "subcategory": "specific document type",
    "summary": "5-10 word summary of document content",
    "is_sensitive": true/false,
    "confidence": 0.0-1.0
}`

const zeroShotPrompt = `Choose the single label that best describes this document excerpt.

LABELS:
%s

DOCUMENT TEXT:
"""
%s
"""

Respond with only JSON: {"label": "one of the labels above", "score": 0.0-1.0}`

type zeroShotLabel struct {
	label       string
	category    string
	subcategory string
	sensitive   bool
}

var zeroShotLabels = []zeroShotLabel{
	{"financial document", "Finance", "Financial", true},
	{"medical record", "Medical", "Medical Record", true},
	{"legal document", "Legal", "Legal", true},
	{"personal correspondence", "Personal", "Correspondence", false},
	{"work document", "Work", "Business", false},
	{"educational material", "Education", "Academic", false},
	{"receipt or invoice", "Finance", "Receipts", false},
	{"insurance document", "Insurance", "Insurance", true},
	{"technical documentation", "Work", "Technical", false},
	{"other document", "Other", "General", false},
}

// MessageCreator is the part of the Anthropic client used for classification.
type MessageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicOptions configure an AnthropicClassifier.
type AnthropicOptions struct {
	Model         string
	MaxTokens     int
	Timeout       time.Duration
	MaxTextLength int
}

// AnthropicClassifier is a deep or fallback tier backed by the Anthropic Messages API.
type AnthropicClassifier struct {
	mode     Mode
	messages MessageCreator
	opts     AnthropicOptions
	logger   sfo.Logger
}

var _ sfo.TextClassifier = (*AnthropicClassifier)(nil)

// NewAnthropicClassifier creates a classifier using apiKey. An empty key
// yields a classifier that reports itself unavailable.
func NewAnthropicClassifier(mode Mode, apiKey string, opts AnthropicOptions, logger sfo.Logger) *AnthropicClassifier {
	var messages MessageCreator
	if apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		messages = &client.Messages
	}
	return NewAnthropicClassifierWithClient(mode, messages, opts, logger)
}

// NewAnthropicClassifierWithClient creates a classifier around an existing message client.
func NewAnthropicClassifierWithClient(mode Mode, messages MessageCreator, opts AnthropicOptions, logger sfo.Logger) *AnthropicClassifier {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultModelTimeout
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	c := &AnthropicClassifier{mode: mode, messages: messages, opts: opts}
	c.logger = sfo.With(logger, "component", "classify."+c.Name())
	return c
}

func (c *AnthropicClassifier) Name() string {
	if c.mode == ModeZeroShot {
		return "anthropic-zero-shot"
	}
	return "anthropic"
}

// Available reports whether a client is configured. It never touches the network.
func (c *AnthropicClassifier) Available() bool {
	return c.messages != nil
}

// Classify sends text to the model. Backend and parse failures are logged and
// reported as "no opinion" so the chain falls through to the previous result.
func (c *AnthropicClassifier) Classify(ctx context.Context, text string) (*sfo.ClassificationResult, error) {
	if !c.Available() || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	excerpt := text
	if len(excerpt) > c.opts.MaxTextLength {
		excerpt = clip(excerpt, c.opts.MaxTextLength) + "\n[...text truncated...]"
	}

	var prompt string
	if c.mode == ModeZeroShot {
		labels := make([]string, len(zeroShotLabels))
		for i, l := range zeroShotLabels {
			labels[i] = "- " + l.label
		}
		prompt = fmt.Sprintf(zeroShotPrompt, strings.Join(labels, "\n"), excerpt)
	} else {
		prompt = fmt.Sprintf(deepPrompt, excerpt)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: int64(c.opts.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		c.logger.Warn("model request failed", "error", err)
		return nil, nil
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}

	var result *sfo.ClassificationResult
	if c.mode == ModeZeroShot {
		result, err = parseZeroShot(reply.String())
	} else {
		result, err = parseDeep(reply.String())
	}
	if err != nil {
		c.logger.Warn("could not parse model reply", "error", err)
		return nil, nil
	}
	return result, nil
}

var (
	flatObject   = regexp.MustCompile(`(?s)\{[^{}]*\}`)
	nestedObject = regexp.MustCompile(`(?s)\{(?:[^{}]|\{[^{}]*\})*\}`)
)

// decodeReply unmarshals the first JSON object found in a model reply.
func decodeReply(reply string, v any) error {
	reply = strings.TrimSpace(reply)
	if err := json.Unmarshal([]byte(reply), v); err == nil {
		return nil
	}
	for _, re := range []*regexp.Regexp{flatObject, nestedObject} {
		if m := re.FindString(reply); m != "" {
			if err := json.Unmarshal([]byte(m), v); err == nil {
				return nil
			}
		}
	}
	excerpt := reply
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return fmt.Errorf("no JSON object in reply: %q", excerpt)
}

type deepReply struct {
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Summary     string   `json:"summary"`
	IsSensitive bool     `json:"is_sensitive"`
	Confidence  *float64 `json:"confidence"`
}

func parseDeep(reply string) (*sfo.ClassificationResult, error) {
	var r deepReply
	if err := decodeReply(reply, &r); err != nil {
		return nil, err
	}
	category := cleanFolderName(r.Category, "Other")
	subcategory := cleanFolderName(r.Subcategory, "General")
	confidence := 0.8
	if r.Confidence != nil {
		confidence = clamp01(*r.Confidence)
	}
	meta := map[string]string{"model_category": r.Category}
	if r.Summary != "" {
		meta["summary"] = r.Summary
	}
	return &sfo.ClassificationResult{
		Category:    sfo.CategoryDocuments,
		Subcategory: category + "/" + subcategory,
		Confidence:  confidence,
		Tier:        sfo.TierDeep,
		IsSensitive: r.IsSensitive,
		Metadata:    meta,
	}, nil
}

type zeroShotReply struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func parseZeroShot(reply string) (*sfo.ClassificationResult, error) {
	var r zeroShotReply
	if err := decodeReply(reply, &r); err != nil {
		return nil, err
	}
	label := zeroShotLabels[len(zeroShotLabels)-1]
	want := strings.ToLower(strings.TrimSpace(r.Label))
	for _, l := range zeroShotLabels {
		if l.label == want {
			label = l
			break
		}
	}
	return &sfo.ClassificationResult{
		Category:    sfo.CategoryDocuments,
		Subcategory: label.category + "/" + label.subcategory,
		Confidence:  clamp01(r.Score),
		Tier:        sfo.TierFallback,
		IsSensitive: label.sensitive,
		Metadata:    map[string]string{"zero_shot_label": label.label},
	}, nil
}

// cleanFolderName makes a model-supplied name safe to use as one path element.
func cleanFolderName(s, fallback string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
	s = strings.Trim(s, ". ")
	if s == "" {
		return fallback
	}
	return clip(s, 64)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func clamp01(f float64) float64 {
	return max(0, min(f, 1))
}
