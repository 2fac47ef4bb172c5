package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sfo-go/internal/sfo"
)

func TestRule_Match(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		path string
		size int64
		want bool
	}{
		{"contains ignores case", Rule{MatchType: MatchContains, Pattern: "Invoice"}, "/d/ACME-INVOICE.pdf", 0, true},
		{"contains miss", Rule{MatchType: MatchContains, Pattern: "invoice"}, "/d/bill.pdf", 0, false},
		{"contains looks at name only", Rule{MatchType: MatchContains, Pattern: "invoice"}, "/invoices/bill.pdf", 0, false},
		{"starts with", Rule{MatchType: MatchStartsWith, Pattern: "IMG_"}, "/d/img_0001.jpg", 0, true},
		{"ends with", Rule{MatchType: MatchEndsWith, Pattern: "_final.docx"}, "/d/thesis_FINAL.docx", 0, true},
		{"regex", Rule{MatchType: MatchRegex, Pattern: `^scan\d+`}, "/d/Scan042.pdf", 0, true},
		{"regex miss", Rule{MatchType: MatchRegex, Pattern: `^scan\d+`}, "/d/myscan042.pdf", 0, false},
		{"extension with dot", Rule{MatchType: MatchExtension, Pattern: ".PDF"}, "/d/a.pdf", 0, true},
		{"extension without dot", Rule{MatchType: MatchExtension, Pattern: "pdf"}, "/d/a.PDF", 0, true},
		{"extension no ext", Rule{MatchType: MatchExtension, Pattern: "pdf"}, "/d/pdf", 0, false},
		{"size gt", Rule{MatchType: MatchSizeGT, Pattern: "100"}, "/d/a", 101, true},
		{"size gt boundary", Rule{MatchType: MatchSizeGT, Pattern: "100"}, "/d/a", 100, false},
		{"size lt", Rule{MatchType: MatchSizeLT, Pattern: "100"}, "/d/a", 99, true},
		{"disabled", Rule{MatchType: MatchContains, Pattern: "a", Disabled: true}, "/d/a", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule
			r.Name = tt.name
			r.Category = "X"
			if err := r.compile(); err != nil {
				t.Fatalf("compile() error = %v", err)
			}
			if got := r.Match(tt.path, tt.size); got != tt.want {
				t.Errorf("Match(%q, %d) = %v, want %v", tt.path, tt.size, got, tt.want)
			}
		})
	}
}

func TestRule_CompileErrors(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"no name", Rule{MatchType: MatchContains, Pattern: "a", Category: "X"}},
		{"no category", Rule{Name: "r", MatchType: MatchContains, Pattern: "a"}},
		{"empty pattern", Rule{Name: "r", MatchType: MatchContains, Category: "X"}},
		{"bad regex", Rule{Name: "r", MatchType: MatchRegex, Pattern: "(", Category: "X"}},
		{"bad size", Rule{Name: "r", MatchType: MatchSizeGT, Pattern: "10MB", Category: "X"}},
		{"unknown type", Rule{Name: "r", MatchType: "glob", Pattern: "*", Category: "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule
			if err := r.compile(); err == nil {
				t.Error("compile() expected error")
			}
		})
	}
}

func TestLoadRuleSet_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet() error = %v", err)
	}

	rules := rs.Rules()
	if len(rules) != len(DefaultRules()) {
		t.Fatalf("got %d rules, want %d", len(rules), len(DefaultRules()))
	}
	wantOrder := []string{"Tax documents", "Resume/CV files", "Invoices to Finance", "Receipts to Finance", "Screenshots folder"}
	for i, name := range wantOrder {
		if rules[i].Name != name {
			t.Errorf("rules[%d] = %q, want %q", i, rules[i].Name, name)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("loading defaults should not create the rules file, stat err = %v", err)
	}
}

func TestRuleSet_AddRemovePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "rules.yaml")
	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet() error = %v", err)
	}

	added, err := rs.Add(Rule{Name: "Payslips", Pattern: "payslip", Category: "Documents", Subcategory: "Finance/Payslips", Sensitive: true})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added.ID != 6 {
		t.Errorf("added.ID = %d, want 6", added.ID)
	}
	if added.MatchType != MatchContains || added.Priority != DefaultRulePriority {
		t.Errorf("defaults not applied: %+v", added)
	}

	if ok, err := rs.Remove(3); err != nil || !ok {
		t.Fatalf("Remove(3) = %v, %v", ok, err)
	}
	if ok, _ := rs.Remove(99); ok {
		t.Error("Remove(99) reported success")
	}
	if ok, err := rs.SetEnabled(1, false); err != nil || !ok {
		t.Fatalf("SetEnabled(1, false) = %v, %v", ok, err)
	}

	reloaded, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	rules := reloaded.Rules()
	if len(rules) != 5 {
		t.Fatalf("reloaded %d rules, want 5", len(rules))
	}
	if _, ok := reloaded.Match("/d/Screenshot 1.png", 1); ok {
		t.Error("removed screenshot rule still matches")
	}
	if _, ok := reloaded.Match("/d/invoice.pdf", 1); ok {
		t.Error("disabled invoice rule still matches")
	}
	r, ok := reloaded.Match("/d/payslip-may.pdf", 1)
	if !ok || r.Name != "Payslips" || !r.Sensitive {
		t.Errorf("Match(payslip) = %+v, %v", r, ok)
	}

	next, err := reloaded.Add(Rule{Name: "Next", Pattern: "x", Category: "X"})
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != 7 {
		t.Errorf("next ID after reload = %d, want 7", next.ID)
	}
}

func TestLoadRuleSet_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":  "rules: [",
		"bad regex": "rules:\n  - id: 1\n    name: r\n    match_type: regex\n    pattern: \"(\"\n    category: X\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadRuleSet(path); err == nil {
				t.Error("LoadRuleSet() expected error")
			}
		})
	}
}

func TestRuleClassifier_DefaultRules(t *testing.T) {
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	c := NewRuleClassifier(rs)
	dir := t.TempDir()

	tests := []struct {
		file      string
		folder    string
		sensitive bool
	}{
		{"Tax_Return_2023.pdf", "Documents/Finance/Tax", true},
		{"my_resume.docx", "Documents/Personal/Resume", true},
		{"invoice_receipt.pdf", "Documents/Finance/Invoices", false},
		{"Receipt-0042.png", "Documents/Finance/Receipts", false},
		{"Screenshot 2024-01-15.png", "Images/Screenshots", false},
		{"holiday.jpg", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
				t.Fatal(err)
			}
			got, err := c.Classify(context.Background(), path)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if tt.folder == "" {
				if got != nil {
					t.Errorf("Classify() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Classify() = nil, want a match")
			}
			if got.SuggestedFolder() != tt.folder {
				t.Errorf("folder = %q, want %q", got.SuggestedFolder(), tt.folder)
			}
			if got.IsSensitive != tt.sensitive {
				t.Errorf("IsSensitive = %v, want %v", got.IsSensitive, tt.sensitive)
			}
			if got.Tier != sfo.TierRule || got.Confidence != 1.0 || got.NeedsDeeperAnalysis {
				t.Errorf("unexpected rule result shape: %+v", got)
			}
		})
	}
}
