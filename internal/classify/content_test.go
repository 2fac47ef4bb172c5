package classify

import "testing"

func TestContentClassifier_Classify(t *testing.T) {
	c := NewContentClassifier()

	tests := []struct {
		name       string
		text       string
		folder     string // empty means no verdict
		sensitive  bool
		confidence float64
		deeper     bool
	}{
		{
			name:       "medical record",
			text:       "The patient received a diagnosis from the doctor at the hospital. Treatment starts Monday.",
			folder:     "Documents/Medical/Medical",
			sensitive:  true,
			confidence: 0.8,
		},
		{
			name:       "identity document",
			text:       "SSN: 123-45-6789. Date of birth: 01/02/1990.",
			folder:     "Documents/Personal/Identity",
			sensitive:  true,
			confidence: 0.8,
		},
		{
			name:       "receipt",
			text:       "Thank you for your purchase! Subtotal $12.00",
			folder:     "Documents/Finance/Receipts",
			sensitive:  false,
			confidence: 0.8,
		},
		{
			name:       "two matches is enough",
			text:       "The contract between the parties.",
			folder:     "Documents/Legal/Legal",
			sensitive:  false,
			confidence: 0.7,
		},
		{
			name:       "confidence is capped",
			text:       "invoice from the bank: $1,200.50, income tax, mortgage",
			folder:     "Documents/Finance/Financial",
			sensitive:  false,
			confidence: 0.9,
		},
		{name: "single match", text: "our bank is closed"},
		{name: "no match", text: "lorem ipsum dolor sit amet"},
		{name: "blank", text: "   \n\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text)
			if tt.folder == "" {
				if got != nil {
					t.Fatalf("Classify() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Classify() = nil, want a verdict")
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
			if got.NeedsDeeperAnalysis != tt.deeper {
				t.Errorf("NeedsDeeperAnalysis = %v, want %v", got.NeedsDeeperAnalysis, tt.deeper)
			}
		})
	}
}
