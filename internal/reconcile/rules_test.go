package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRules_EmbeddedDefaults(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	assert.Len(t, rules.Categories, 4)
	assert.Equal(t, "other", rules.DefaultCategory)
	assert.Len(t, rules.SalesVariations, 7)
	assert.Len(t, rules.Provinces, 4)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRules_CustomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	data := `
lead_source_categories:
  - category: billboard
    keywords: [highway]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, "billboard", rules.CategoryFor("Highway 401 Sign"))
	// default_category falls back when the file omits it
	assert.Equal(t, "other", rules.CategoryFor("smoke signals"))
}

func TestCategoryFor(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	tests := []struct {
		source string
		want   string
	}{
		{"Google", "online"},
		{"GOOGLE SEARCH", "online"},
		{"Word of Mouth", "referral"},
		{"Friend recommendation", "referral"},
		{"Corporate Account", "partner"},
		{"Radio Advertisement", "advertising"},
		{"", "other"},
		{"Walk In", "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.CategoryFor(tt.source), "source %q", tt.source)
	}
}

func TestCategoryFor_OrderMatters(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	// Matches both "google" (online) and "ad" (advertising); online is
	// listed first so it wins.
	assert.Equal(t, "online", rules.CategoryFor("Google Ads"))
}

func TestCanonicalFor(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	canonical, ok := rules.CanonicalFor("Bobby")
	require.True(t, ok)
	assert.Equal(t, "Bobby S", canonical)

	// Case and spacing are irrelevant.
	canonical, ok = rules.CanonicalFor("  BOBBY   S ")
	require.True(t, ok)
	assert.Equal(t, "Bobby S", canonical)

	// A canonical name maps to itself.
	canonical, ok = rules.CanonicalFor("Josephine Orji")
	require.True(t, ok)
	assert.Equal(t, "Josephine Orji", canonical)

	_, ok = rules.CanonicalFor("Zed")
	assert.False(t, ok)

	_, ok = rules.CanonicalFor("")
	assert.False(t, ok)
}

func TestProvinceFor(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)

	tests := []struct {
		branch string
		want   string
	}{
		{"NORTH YORK TORONTO", "ON"}, // TORONTO contains "ON"
		{"Ontario East", "ON"},
		{"VANCOUVER BC", "BC"},
		{"CALGARY AB", "AB"},
		{"QUEBEC CITY", "QC"},
		{"MISSISSAUGA", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rules.ProvinceFor(tt.branch), "branch %q", tt.branch)
	}
}
