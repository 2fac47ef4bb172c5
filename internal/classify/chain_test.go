package classify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sfo-go/internal/sfo"
	"sfo-go/internal/testutil"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func defaultRuleSet(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func modelResult(tier int, sub string, sensitive bool) *sfo.ClassificationResult {
	return &sfo.ClassificationResult{
		Category:    sfo.CategoryDocuments,
		Subcategory: sub,
		Confidence:  0.9,
		Tier:        tier,
		IsSensitive: sensitive,
	}
}

func TestChain_RuleShortCircuits(t *testing.T) {
	path := writeTemp(t, "Screenshot 2024.png", "x")
	deep := &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "Work/Other", false)}
	c := NewChain(ChainConfig{
		Rules:     defaultRuleSet(t),
		Metadata:  true,
		Content:   true,
		Extractor: &testutil.StubExtractor{Text: map[string]string{path: "patient diagnosis doctor"}},
		Deep:      deep,
	}, nil)

	got, err := c.Classify(context.Background(), path)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Tier != sfo.TierRule || got.SuggestedFolder() != "Images/Screenshots" {
		t.Errorf("Classify() = %+v, want rule result", got)
	}
	if deep.Calls != 0 {
		t.Errorf("deep tier called %d times, want 0", deep.Calls)
	}
}

func TestChain_MetadataIsFinal(t *testing.T) {
	path := writeTemp(t, "song.mp3", "ID3")
	deep := &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "X", false)}
	c := NewChain(ChainConfig{Rules: defaultRuleSet(t), Metadata: true, Content: true, Extractor: &testutil.StubExtractor{}, Deep: deep}, nil)

	got, err := c.Classify(context.Background(), path)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Tier != sfo.TierMetadata || got.SuggestedFolder() != "Audio/Music" {
		t.Errorf("Classify() = %+v", got)
	}
	if deep.Calls != 0 {
		t.Error("deep tier should not run for a final metadata result")
	}
}

func TestChain_Tiers(t *testing.T) {
	medical := "The patient received a diagnosis from the doctor at the hospital."
	bland := "minutes of the weekly sync"

	tests := []struct {
		name       string
		file       string
		text       string
		content    bool
		deep       *testutil.StubTextClassifier
		fallback   *testutil.StubTextClassifier
		wantTier   int
		wantFolder string
		sensitive  bool
		deepCalls  int
		fallCalls  int
	}{
		{
			name:       "content pattern answers",
			file:       "notes.txt",
			text:       medical,
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "Work/Notes", false)},
			wantTier:   sfo.TierContent,
			wantFolder: "Documents/Medical/Medical",
			sensitive:  true,
		},
		{
			name:       "deep answers when content has no verdict",
			file:       "notes.txt",
			text:       bland,
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "Work/Meetings", false)},
			fallback:   &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierFallback, "Other/General", false)},
			wantTier:   sfo.TierDeep,
			wantFolder: "Documents/Work/Meetings",
			deepCalls:  1,
		},
		{
			name:       "sensitivity from metadata sticks",
			file:       "scan.pdf",
			text:       bland,
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "Work/Meetings", false)},
			wantTier:   sfo.TierDeep,
			wantFolder: "Documents/Work/Meetings",
			sensitive:  true,
			deepCalls:  1,
		},
		{
			name:       "fallback when deep is unavailable",
			file:       "notes.txt",
			text:       bland,
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: false, Result: modelResult(sfo.TierDeep, "Work/Meetings", false)},
			fallback:   &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierFallback, "Work/Business", false)},
			wantTier:   sfo.TierFallback,
			wantFolder: "Documents/Work/Business",
			fallCalls:  1,
		},
		{
			name:       "fallback when deep fails",
			file:       "notes.txt",
			text:       bland,
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: true, Err: errors.New("timeout")},
			fallback:   &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierFallback, "Work/Business", true)},
			wantTier:   sfo.TierFallback,
			wantFolder: "Documents/Work/Business",
			sensitive:  true,
			deepCalls:  1,
			fallCalls:  1,
		},
		{
			name:       "previous result stands when no model answers",
			file:       "notes.txt",
			text:       bland,
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: true},
			fallback:   &testutil.StubTextClassifier{Up: false},
			wantTier:   sfo.TierMetadata,
			wantFolder: "Documents/Text",
			deepCalls:  1,
		},
		{
			name:       "no text skips content and models",
			file:       "notes.txt",
			text:       "",
			content:    true,
			deep:       &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "Work/Meetings", false)},
			wantTier:   sfo.TierMetadata,
			wantFolder: "Documents/Text",
		},
		{
			name:       "content tier disabled",
			file:       "notes.txt",
			text:       medical,
			content:    false,
			deep:       &testutil.StubTextClassifier{Up: true, Result: modelResult(sfo.TierDeep, "Medical/Records", true)},
			wantTier:   sfo.TierDeep,
			wantFolder: "Documents/Medical/Records",
			sensitive:  true,
			deepCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.file, "placeholder")
			cfg := ChainConfig{
				Rules:     defaultRuleSet(t),
				Metadata:  true,
				Content:   tt.content,
				Extractor: &testutil.StubExtractor{Text: map[string]string{path: tt.text}},
			}
			if tt.deep != nil {
				cfg.Deep = tt.deep
			}
			if tt.fallback != nil {
				cfg.Fallback = tt.fallback
			}

			got, err := NewChain(cfg, nil).Classify(context.Background(), path)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got.Tier != tt.wantTier {
				t.Errorf("Tier = %d, want %d", got.Tier, tt.wantTier)
			}
			if got.SuggestedFolder() != tt.wantFolder {
				t.Errorf("folder = %q, want %q", got.SuggestedFolder(), tt.wantFolder)
			}
			if got.IsSensitive != tt.sensitive {
				t.Errorf("IsSensitive = %v, want %v", got.IsSensitive, tt.sensitive)
			}
			if tt.deep != nil && tt.deep.Calls != tt.deepCalls {
				t.Errorf("deep calls = %d, want %d", tt.deep.Calls, tt.deepCalls)
			}
			if tt.fallback != nil && tt.fallback.Calls != tt.fallCalls {
				t.Errorf("fallback calls = %d, want %d", tt.fallback.Calls, tt.fallCalls)
			}
		})
	}
}

func TestChain_MetadataCarriedForward(t *testing.T) {
	path := writeTemp(t, "notes.txt", "placeholder")
	c := NewChain(ChainConfig{
		Metadata:  true,
		Content:   true,
		Extractor: &testutil.StubExtractor{Text: map[string]string{path: "The patient saw a doctor."}},
	}, nil)

	got, err := c.Classify(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata["extension"] != ".txt" || got.Metadata["content_category"] != "Medical" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestChain_MetadataDisabled(t *testing.T) {
	path := writeTemp(t, "song.mp3", "ID3")
	got, err := NewChain(ChainConfig{}, nil).Classify(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != sfo.CategoryUnknown || !got.NeedsDeeperAnalysis {
		t.Errorf("Classify() = %+v, want Unknown needing deeper analysis", got)
	}
}

func TestChain_VanishedFile(t *testing.T) {
	c := NewChain(ChainConfig{Rules: defaultRuleSet(t), Metadata: true}, nil)
	_, err := c.Classify(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	if !errors.Is(err, sfo.ErrFileVanished) {
		t.Errorf("Classify() error = %v, want ErrFileVanished", err)
	}
}
