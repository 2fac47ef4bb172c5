package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"sfo-go/internal/sfo"
)

type fakeMessages struct {
	reply  string
	err    error
	params []anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, p anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: f.reply}}}, nil
}

func TestAnthropicClassifier_Deep(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		folder     string
		sensitive  bool
		confidence float64
	}{
		{
			name:       "plain json",
			reply:      `{"category": "Medical", "subcategory": "Lab Results", "summary": "blood panel", "is_sensitive": true, "confidence": 0.93}`,
			folder:     "Documents/Medical/Lab Results",
			sensitive:  true,
			confidence: 0.93,
		},
		{
			name:       "json wrapped in prose",
			reply:      "Sure! Here you go:\n{\"category\": \"Work\", \"subcategory\": \"Report\", \"is_sensitive\": false}\nThanks.",
			folder:     "Documents/Work/Report",
			confidence: 0.8,
		},
		{
			name:       "unsafe folder names are cleaned",
			reply:      `{"category": "../Legal", "subcategory": "a/b", "confidence": 4}`,
			folder:     "Documents/-Legal/a-b",
			confidence: 1,
		},
		{
			name:       "missing names fall back",
			reply:      `{"confidence": 0.5}`,
			folder:     "Documents/Other/General",
			confidence: 0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeMessages{reply: tt.reply}
			c := NewAnthropicClassifierWithClient(ModeDeep, fake, AnthropicOptions{}, nil)

			got, err := c.Classify(context.Background(), "some document text")
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got == nil {
				t.Fatal("Classify() = nil")
			}
			if got.SuggestedFolder() != tt.folder {
				t.Errorf("folder = %q, want %q", got.SuggestedFolder(), tt.folder)
			}
			if got.IsSensitive != tt.sensitive {
				t.Errorf("IsSensitive = %v, want %v", got.IsSensitive, tt.sensitive)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.confidence)
			}
			if got.Tier != sfo.TierDeep || got.NeedsDeeperAnalysis {
				t.Errorf("unexpected result shape: %+v", got)
			}
		})
	}
}

func TestAnthropicClassifier_ZeroShot(t *testing.T) {
	tests := []struct {
		reply     string
		folder    string
		sensitive bool
	}{
		{`{"label": "medical record", "score": 0.7}`, "Documents/Medical/Medical Record", true},
		{`{"label": "Receipt or Invoice", "score": 0.6}`, "Documents/Finance/Receipts", false},
		{`{"label": "poetry", "score": 0.9}`, "Documents/Other/General", false},
	}
	for _, tt := range tests {
		t.Run(tt.folder, func(t *testing.T) {
			c := NewAnthropicClassifierWithClient(ModeZeroShot, &fakeMessages{reply: tt.reply}, AnthropicOptions{}, nil)
			got, err := c.Classify(context.Background(), "text")
			if err != nil || got == nil {
				t.Fatalf("Classify() = %v, %v", got, err)
			}
			if got.SuggestedFolder() != tt.folder || got.IsSensitive != tt.sensitive {
				t.Errorf("Classify() = %s sensitive=%v, want %s sensitive=%v",
					got.SuggestedFolder(), got.IsSensitive, tt.folder, tt.sensitive)
			}
			if got.Tier != sfo.TierFallback {
				t.Errorf("Tier = %d, want %d", got.Tier, sfo.TierFallback)
			}
		})
	}
}

func TestAnthropicClassifier_NoOpinion(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeMessages
		text string
	}{
		{"request fails", &fakeMessages{err: errors.New("503")}, "text"},
		{"unparseable reply", &fakeMessages{reply: "I cannot help with that."}, "text"},
		{"empty text", &fakeMessages{reply: `{"category": "Work"}`}, "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAnthropicClassifierWithClient(ModeDeep, tt.fake, AnthropicOptions{}, nil)
			got, err := c.Classify(context.Background(), tt.text)
			if err != nil || got != nil {
				t.Errorf("Classify() = %v, %v; want nil, nil", got, err)
			}
		})
	}
}

func TestAnthropicClassifier_Request(t *testing.T) {
	fake := &fakeMessages{reply: `{"category": "Work"}`}
	c := NewAnthropicClassifierWithClient(ModeDeep, fake, AnthropicOptions{Model: "test-model", MaxTokens: 64, MaxTextLength: 10}, nil)

	if _, err := c.Classify(context.Background(), strings.Repeat("x", 50)); err != nil {
		t.Fatal(err)
	}
	if len(fake.params) != 1 {
		t.Fatalf("got %d requests, want 1", len(fake.params))
	}
	p := fake.params[0]
	if string(p.Model) != "test-model" || p.MaxTokens != 64 {
		t.Errorf("model = %q, max tokens = %d", p.Model, p.MaxTokens)
	}
	if len(p.System) != 1 || !strings.Contains(p.System[0].Text, "JSON") {
		t.Errorf("system prompt = %+v", p.System)
	}
}

func TestAnthropicClassifier_Available(t *testing.T) {
	if NewAnthropicClassifier(ModeDeep, "", AnthropicOptions{}, nil).Available() {
		t.Error("classifier without API key should be unavailable")
	}
	if !NewAnthropicClassifier(ModeDeep, "sk-test", AnthropicOptions{}, nil).Available() {
		t.Error("classifier with API key should be available")
	}
	if got := NewAnthropicClassifierWithClient(ModeZeroShot, nil, AnthropicOptions{}, nil).Name(); got != "anthropic-zero-shot" {
		t.Errorf("Name() = %q", got)
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 3, "abc"},
		{"inside rune", "aé", 2, "a"},
		{"after rune", "éa", 2, "é"},
		{"wide rune", "日本", 4, "日"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clip(tt.in, tt.n)
			if got != tt.want || !utf8.ValidString(got) {
				t.Errorf("clip(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestCleanFolderName_KeepsRunesWhole(t *testing.T) {
	got := cleanFolderName(strings.Repeat("a", 63)+"éé", "Other")
	if got != strings.Repeat("a", 63) {
		t.Errorf("cleanFolderName() = %q", got)
	}
	if got := cleanFolderName(" a/b: ", "Other"); got != "a-b-" {
		t.Errorf("cleanFolderName() = %q, want %q", got, "a-b-")
	}
}

func TestAnthropicClassifier_TruncatesOnRuneBoundary(t *testing.T) {
	fake := &fakeMessages{reply: `{"category": "Work"}`}
	c := NewAnthropicClassifierWithClient(ModeDeep, fake, AnthropicOptions{MaxTextLength: 5}, nil)

	if _, err := c.Classify(context.Background(), "abcd日本語"); err != nil {
		t.Fatal(err)
	}
	if len(fake.params) != 1 {
		t.Fatalf("got %d requests, want 1", len(fake.params))
	}
	for _, m := range fake.params[0].Messages {
		for _, b := range m.Content {
			if b.OfText != nil && !utf8.ValidString(b.OfText.Text) {
				t.Errorf("prompt holds invalid UTF-8: %q", b.OfText.Text)
			}
		}
	}
}
