package sfo

import (
	"context"
	"path"
)

// Top-level categories produced by the metadata tier.
const (
	CategoryDocuments  = "Documents"
	CategoryImages     = "Images"
	CategoryAudio      = "Audio"
	CategoryVideo      = "Video"
	CategoryArchives   = "Archives"
	CategoryInstallers = "Installers"
	CategoryCode       = "Code"
	CategoryData       = "Data"
	CategoryEbooks     = "Ebooks"
	CategoryFonts      = "Fonts"
	CategoryUnknown    = "Unknown"
)

// Classification tiers in chain order.
const (
	TierRule     = 0
	TierMetadata = 1
	TierContent  = 2
	TierDeep     = 3
	TierFallback = 4
)

// ClassificationResult is the verdict of one classification tier.
type ClassificationResult struct {
	Category            string            `json:"category"`
	Subcategory         string            `json:"subcategory,omitempty"`
	Confidence          float64           `json:"confidence"`
	Tier                int               `json:"tier"`
	IsSensitive         bool              `json:"is_sensitive"`
	NeedsDeeperAnalysis bool              `json:"needs_deeper_analysis"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// SuggestedFolder is Category, or Category/Subcategory when a subcategory is known.
func (r *ClassificationResult) SuggestedFolder() string {
	if r.Subcategory == "" {
		return r.Category
	}
	return path.Join(r.Category, r.Subcategory)
}

// Classifier assigns a category to a file.
type Classifier interface {
	Classify(ctx context.Context, path string) (*ClassificationResult, error)
}

// TextExtractor pulls plain text out of a document.
// An empty string with a nil error means the format has no extractable text.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// TextClassifier is an optional, possibly remote, classifier fed with document text.
// Available must return quickly and never block on an unreachable backend.
// A nil result with a nil error means the backend had no opinion.
type TextClassifier interface {
	Name() string
	Available() bool
	Classify(ctx context.Context, text string) (*ClassificationResult, error)
}
