package crm

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed campaign_tables.yaml
var defaultCampaignTablesYAML []byte

// CampaignSource hands out the campaign tables in effect right now.
type CampaignSource interface {
	Current() *CampaignTables
}

// CampaignTables holds the two attribution lookups: campaign key to GH code,
// and GH code to campaign category. A value is immutable once built.
type CampaignTables struct {
	codes      map[string]string
	categories map[string]string
}

type campaignTablesFile struct {
	Codes      map[string]string `yaml:"codes"`
	Categories map[string]string `yaml:"categories"`
}

// NewCampaignTables copies both maps. Campaign keys are trimmed and
// lowercased; codes and categories are kept exactly as given.
func NewCampaignTables(codes, categories map[string]string) *CampaignTables {
	t := &CampaignTables{
		codes:      make(map[string]string, len(codes)),
		categories: make(map[string]string, len(categories)),
	}
	for key, code := range codes {
		t.codes[campaignKey(key)] = code
	}
	for code, category := range categories {
		t.categories[code] = category
	}
	return t
}

// DefaultCampaignTables returns the built-in tables.
func DefaultCampaignTables() *CampaignTables {
	tables, err := ParseCampaignTables(defaultCampaignTablesYAML)
	if err != nil {
		panic(fmt.Sprintf("crm: built-in campaign tables are invalid: %v", err))
	}
	return tables
}

func ParseCampaignTables(data []byte) (*CampaignTables, error) {
	var file campaignTablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse campaign tables: %w", err)
	}
	if len(file.Codes) == 0 {
		return nil, fmt.Errorf("%w: campaign tables define no codes", ErrInvalidInput)
	}
	return NewCampaignTables(file.Codes, file.Categories), nil
}

func LoadCampaignTables(path string) (*CampaignTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign tables: %w", err)
	}
	return ParseCampaignTables(data)
}

func (t *CampaignTables) Current() *CampaignTables {
	return t
}

// Code maps a free-text campaign identifier to its GH code. Unknown
// campaigns are expected and simply report false.
func (t *CampaignTables) Code(campaign string) (string, bool) {
	if t == nil {
		return "", false
	}
	key := campaignKey(campaign)
	if key == "" {
		return "", false
	}
	code, ok := t.codes[key]
	return code, ok
}

// Category maps a GH code to its category. The lookup is case-sensitive.
func (t *CampaignTables) Category(code string) (string, bool) {
	if t == nil || code == "" {
		return "", false
	}
	category, ok := t.categories[code]
	return category, ok
}

// Attribute resolves a campaign identifier to nullable code and category
// columns.
func (t *CampaignTables) Attribute(campaign *string) (code, category *string) {
	if campaign == nil {
		return nil, nil
	}
	c, ok := t.Code(*campaign)
	if !ok {
		return nil, nil
	}
	code = &c
	if cat, ok := t.Category(c); ok {
		category = &cat
	}
	return code, category
}

// Len reports the number of campaign keys and categories.
func (t *CampaignTables) Len() (codes, categories int) {
	if t == nil {
		return 0, 0
	}
	return len(t.codes), len(t.categories)
}

func campaignKey(campaign string) string {
	return strings.ToLower(strings.TrimSpace(campaign))
}
