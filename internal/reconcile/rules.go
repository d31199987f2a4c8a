package reconcile

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// CategoryRule assigns a lead-source category when any of its keywords
// appears in the normalized source text.
type CategoryRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// VariationRule folds known spellings of a sales person into one
// canonical name.
type VariationRule struct {
	Canonical  string   `yaml:"canonical"`
	Variations []string `yaml:"variations"`
}

// ProvinceRule maps branch-name keywords to a two-letter province code.
type ProvinceRule struct {
	Code     string   `yaml:"code"`
	Keywords []string `yaml:"keywords"`
}

// Rules holds the editable classification tables used by the lookup
// stages. All matching goes through Normalize, so rule keywords and the
// raw CRM text never need to agree on case or spacing.
type Rules struct {
	Categories      []CategoryRule  `yaml:"lead_source_categories"`
	DefaultCategory string          `yaml:"default_category"`
	SalesVariations []VariationRule `yaml:"sales_person_variations"`
	Provinces       []ProvinceRule  `yaml:"branch_provinces"`
}

// LoadRules reads classification rules from a YAML file. An empty path
// returns the defaults compiled into the binary.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return parseRules(defaultRulesYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read rules %s", path)
	}
	return parseRules(data)
}

func parseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse rules")
	}
	if r.DefaultCategory == "" {
		r.DefaultCategory = "other"
	}
	return &r, nil
}

// CategoryFor classifies a raw referral source. Matching is
// substring-based on the normalized text, and category order matters:
// "Google Ads" lands in online, not advertising.
func (r *Rules) CategoryFor(source string) string {
	norm := Normalize(source)
	if norm == "" {
		return r.DefaultCategory
	}
	for _, rule := range r.Categories {
		for _, kw := range rule.Keywords {
			if strings.Contains(norm, Normalize(kw)) {
				return rule.Category
			}
		}
	}
	return r.DefaultCategory
}

// CanonicalFor reports the canonical sales-person name for a known
// variation. The bool is false when the name belongs to no group.
func (r *Rules) CanonicalFor(name string) (string, bool) {
	norm := Normalize(name)
	if norm == "" {
		return "", false
	}
	for _, rule := range r.SalesVariations {
		for _, v := range rule.Variations {
			if Normalize(v) == norm {
				return rule.Canonical, true
			}
		}
	}
	return "", false
}

// ProvinceFor guesses the province code embedded in a branch name.
// Returns "" when no keyword matches.
func (r *Rules) ProvinceFor(branchName string) string {
	upper := strings.ToUpper(branchName)
	for _, rule := range r.Provinces {
		for _, kw := range rule.Keywords {
			if strings.Contains(upper, kw) {
				return rule.Code
			}
		}
	}
	return ""
}
