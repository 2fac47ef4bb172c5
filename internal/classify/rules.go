package classify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"sfo-go/internal/sfo"
)

// MatchType selects how a rule's pattern is compared with a file.
type MatchType string

const (
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "starts_with"
	MatchEndsWith   MatchType = "ends_with"
	MatchRegex      MatchType = "regex"
	MatchExtension  MatchType = "extension"
	MatchSizeGT     MatchType = "size_gt"
	MatchSizeLT     MatchType = "size_lt"
)

// DefaultRulePriority is used for rules added without an explicit priority.
const DefaultRulePriority = 50

// Rule is a user-defined classification rule evaluated before any other tier.
type Rule struct {
	ID          int       `yaml:"id"`
	Name        string    `yaml:"name"`
	Disabled    bool      `yaml:"disabled,omitempty"`
	Priority    int       `yaml:"priority"`
	MatchType   MatchType `yaml:"match_type"`
	Pattern     string    `yaml:"pattern"`
	Category    string    `yaml:"category"`
	Subcategory string    `yaml:"subcategory,omitempty"`
	Sensitive   bool      `yaml:"sensitive,omitempty"`

	re   *regexp.Regexp
	size int64
}

// compile validates the pattern and caches what Match needs.
func (r *Rule) compile() error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if r.Category == "" {
		return fmt.Errorf("rule %q has no category", r.Name)
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %q has an empty pattern", r.Name)
	}
	switch r.MatchType {
	case MatchContains, MatchStartsWith, MatchEndsWith, MatchExtension:
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q: invalid regex: %w", r.Name, err)
		}
		r.re = re
	case MatchSizeGT, MatchSizeLT:
		n, err := strconv.ParseInt(r.Pattern, 10, 64)
		if err != nil {
			return fmt.Errorf("rule %q: size must be a byte count: %w", r.Name, err)
		}
		r.size = n
	default:
		return fmt.Errorf("rule %q: unknown match type %q", r.Name, r.MatchType)
	}
	return nil
}

// Match reports whether the file at path with the given size satisfies the rule.
// Name comparisons are case-insensitive.
func (r *Rule) Match(path string, size int64) bool {
	if r.Disabled {
		return false
	}
	name := strings.ToLower(filepath.Base(path))
	pattern := strings.ToLower(r.Pattern)

	switch r.MatchType {
	case MatchContains:
		return strings.Contains(name, pattern)
	case MatchStartsWith:
		return strings.HasPrefix(name, pattern)
	case MatchEndsWith:
		return strings.HasSuffix(name, pattern)
	case MatchRegex:
		return r.re != nil && r.re.MatchString(name)
	case MatchExtension:
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		return ext != "" && ext == strings.TrimPrefix(pattern, ".")
	case MatchSizeGT:
		return size > r.size
	case MatchSizeLT:
		return size < r.size
	}
	return false
}

// DefaultRules returns the rules a fresh installation starts with.
func DefaultRules() []Rule {
	return []Rule{
		{ID: 1, Name: "Invoices to Finance", Priority: 80, MatchType: MatchContains, Pattern: "invoice", Category: sfo.CategoryDocuments, Subcategory: "Finance/Invoices"},
		{ID: 2, Name: "Receipts to Finance", Priority: 80, MatchType: MatchContains, Pattern: "receipt", Category: sfo.CategoryDocuments, Subcategory: "Finance/Receipts"},
		{ID: 3, Name: "Screenshots folder", Priority: 70, MatchType: MatchContains, Pattern: "screenshot", Category: sfo.CategoryImages, Subcategory: "Screenshots"},
		{ID: 4, Name: "Resume/CV files", Priority: 90, MatchType: MatchRegex, Pattern: "resume|cv|curriculum", Category: sfo.CategoryDocuments, Subcategory: "Personal/Resume", Sensitive: true},
		{ID: 5, Name: "Tax documents", Priority: 95, MatchType: MatchRegex, Pattern: "tax|1099|w2|w-2", Category: sfo.CategoryDocuments, Subcategory: "Finance/Tax", Sensitive: true},
	}
}

type ruleFile struct {
	NextID int    `yaml:"next_id"`
	Rules  []Rule `yaml:"rules"`
}

// RuleSet is the persisted list of rules. It is safe for concurrent use.
// A RuleSet with an empty path lives only in memory.
type RuleSet struct {
	path string

	mu     sync.RWMutex
	rules  []Rule
	nextID int
}

// NewRuleSet creates an in-memory rule set holding rules.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{nextID: 1}
	for _, r := range rules {
		if err := r.compile(); err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, r)
		if r.ID >= rs.nextID {
			rs.nextID = r.ID + 1
		}
	}
	rs.sort()
	return rs, nil
}

// LoadRuleSet reads rules from a YAML file. A missing file yields the default rules.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		rs, err := NewRuleSet(DefaultRules())
		if err != nil {
			return nil, err
		}
		rs.path = path
		return rs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	rs, err := NewRuleSet(rf.Rules)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	if rf.NextID > rs.nextID {
		rs.nextID = rf.NextID
	}
	rs.path = path
	return rs, nil
}

// sort orders rules by priority, highest first; ties keep ID order.
func (rs *RuleSet) sort() {
	sort.SliceStable(rs.rules, func(i, j int) bool {
		if rs.rules[i].Priority != rs.rules[j].Priority {
			return rs.rules[i].Priority > rs.rules[j].Priority
		}
		return rs.rules[i].ID < rs.rules[j].ID
	})
}

// Rules returns a copy of the rules in evaluation order.
func (rs *RuleSet) Rules() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]Rule(nil), rs.rules...)
}

// Add validates r, assigns it the next ID, and saves the set.
func (rs *RuleSet) Add(r Rule) (Rule, error) {
	if r.MatchType == "" {
		r.MatchType = MatchContains
	}
	if r.Priority == 0 {
		r.Priority = DefaultRulePriority
	}
	if err := r.compile(); err != nil {
		return Rule{}, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	r.ID = rs.nextID
	rs.nextID++
	rs.rules = append(rs.rules, r)
	rs.sort()
	if err := rs.saveLocked(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Remove deletes the rule with the given ID and saves the set.
// It reports whether a rule was removed.
func (rs *RuleSet) Remove(id int) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, r := range rs.rules {
		if r.ID == id {
			rs.rules = append(rs.rules[:i], rs.rules[i+1:]...)
			return true, rs.saveLocked()
		}
	}
	return false, nil
}

// SetEnabled enables or disables the rule with the given ID and saves the set.
func (rs *RuleSet) SetEnabled(id int, enabled bool) (bool, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i := range rs.rules {
		if rs.rules[i].ID == id {
			rs.rules[i].Disabled = !enabled
			return true, rs.saveLocked()
		}
	}
	return false, nil
}

// Save writes the rule set to its file.
func (rs *RuleSet) Save() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.saveLocked()
}

func (rs *RuleSet) saveLocked() error {
	if rs.path == "" {
		return nil
	}
	data, err := yaml.Marshal(ruleFile{NextID: rs.nextID, Rules: rs.rules})
	if err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(rs.path), 0755); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}
	tmp := rs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing rules file: %w", err)
	}
	if err := os.Rename(tmp, rs.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing rules file: %w", err)
	}
	return nil
}

// Match returns the first rule, in priority order, that matches the file.
func (rs *RuleSet) Match(path string, size int64) (Rule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, r := range rs.rules {
		if r.Match(path, size) {
			return r, true
		}
	}
	return Rule{}, false
}

// RuleClassifier is tier 0: user rules matched against the file name and size.
type RuleClassifier struct {
	rules *RuleSet
}

// NewRuleClassifier creates the rule tier over rs.
func NewRuleClassifier(rs *RuleSet) *RuleClassifier {
	return &RuleClassifier{rules: rs}
}

// Classify returns nil when no rule matches.
func (c *RuleClassifier) Classify(_ context.Context, path string) (*sfo.ClassificationResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", sfo.ErrFileVanished, path)
		}
		return nil, fmt.Errorf("stat: %w", err)
	}
	r, ok := c.rules.Match(path, info.Size())
	if !ok {
		return nil, nil
	}
	return &sfo.ClassificationResult{
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Confidence:  1.0,
		Tier:        sfo.TierRule,
		IsSensitive: r.Sensitive,
		Metadata: map[string]string{
			"matched_rule": r.Name,
			"rule_id":      strconv.Itoa(r.ID),
		},
	}, nil
}
