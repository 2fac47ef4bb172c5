package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"sfo-go/internal/sfo"
)

// MinPatternMatches is how many patterns of one set must match before the
// content tier offers a verdict.
const MinPatternMatches = 2

// PatternSet is a family of regular expressions that together indicate a
// kind of document.
type PatternSet struct {
	Category         string
	Subcategory      string
	SensitivityBoost float64
	patterns         []*regexp.Regexp
}

func newPatternSet(category, subcategory string, boost float64, exprs ...string) PatternSet {
	ps := PatternSet{Category: category, Subcategory: subcategory, SensitivityBoost: boost}
	for _, e := range exprs {
		ps.patterns = append(ps.patterns, regexp.MustCompile("(?i)"+e))
	}
	return ps
}

// count returns how many of the set's patterns occur in text.
func (ps PatternSet) count(text string) int {
	n := 0
	for _, re := range ps.patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// DefaultPatternSets are evaluated in this order; ties go to the earlier set.
var DefaultPatternSets = []PatternSet{
	newPatternSet("Finance", "Financial", 0.3,
		`\b(?:invoice|bill|receipt|payment|transaction)\b`,
		`\$[\d,]+\.?\d*`,
		`\b(?:bank|account|balance|credit|debit)\b`,
		`\b(?:tax|IRS|W-2|1099|salary|income)\b`,
		`\b(?:mortgage|loan|interest rate|principal)\b`,
	),
	newPatternSet("Medical", "Medical", 0.5,
		`\b(?:patient|diagnosis|prescription|medication)\b`,
		`\b(?:doctor|physician|hospital|clinic|medical)\b`,
		`\b(?:treatment|therapy|symptoms|health)\b`,
		`\b(?:insurance claim|copay|deductible)\b`,
		`\b(?:blood pressure|heart rate|BMI|cholesterol)\b`,
	),
	newPatternSet("Legal", "Legal", 0.3,
		`\b(?:contract|agreement|terms|conditions)\b`,
		`\b(?:party|parties|herein|whereas|hereby)\b`,
		`\b(?:court|legal|attorney|lawyer|law firm)\b`,
		`\b(?:plaintiff|defendant|lawsuit|litigation)\b`,
		`\b(?:notarized|affidavit|deposition)\b`,
	),
	newPatternSet("Finance", "Receipts", 0.1,
		`\b(?:receipt|order|purchase|item|qty|quantity)\b`,
		`\b(?:subtotal|total|tax|tip|gratuity)\b`,
		`\b(?:visa|mastercard|amex|payment method)\b`,
		`\b(?:thank you for your purchase)\b`,
		`\bitem\s+\d+\b`,
	),
	newPatternSet("Finance", "Invoices", 0.2,
		`\b(?:invoice|inv|bill to|ship to)\b`,
		`\binvoice\s*(?:#|number|no\.?)\s*\d+`,
		`\b(?:due date|payment due|net 30|net 60)\b`,
		`\b(?:amount due|balance due|please pay)\b`,
	),
	newPatternSet("Personal", "Identity", 0.8,
		`\b\d{3}-\d{2}-\d{4}\b`,
		`\b(?:social security|SSN)\b`,
		`\b(?:passport|driver.?s? license|ID card)\b`,
		`\b(?:date of birth|DOB)\b`,
	),
}

// ContentClassifier is tier 2: keyword patterns over extracted document text.
type ContentClassifier struct {
	sets []PatternSet
}

// NewContentClassifier creates the content tier over the default pattern sets.
func NewContentClassifier() *ContentClassifier {
	return &ContentClassifier{sets: DefaultPatternSets}
}

// Classify returns nil when the text is empty or no set reaches MinPatternMatches.
func (c *ContentClassifier) Classify(text string) *sfo.ClassificationResult {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	type hit struct {
		set   PatternSet
		count int
	}
	var hits []hit
	for _, ps := range c.sets {
		if n := ps.count(text); n > 0 {
			hits = append(hits, hit{ps, n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].count > hits[j].count })

	if len(hits) == 0 || hits[0].count < MinPatternMatches {
		return nil
	}

	best := hits[0]
	confidence := min(0.5+0.1*float64(best.count), 0.9)

	return &sfo.ClassificationResult{
		Category:            sfo.CategoryDocuments,
		Subcategory:         best.set.Category + "/" + best.set.Subcategory,
		Confidence:          confidence,
		Tier:                sfo.TierContent,
		IsSensitive:         best.set.SensitivityBoost > 0.3,
		NeedsDeeperAnalysis: confidence < 0.7,
		Metadata: map[string]string{
			"content_category":  best.set.Category,
			"pattern_matches":   strconv.Itoa(best.count),
			"sensitivity_score": strconv.FormatFloat(best.set.SensitivityBoost, 'f', 1, 64),
		},
	}
}
