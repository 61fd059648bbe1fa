package model

import "strings"

// DatasetType distinguishes numeric from categorical indicator datasets.
type DatasetType string

const (
	DatasetNumeric     DatasetType = "numeric"
	DatasetCategorical DatasetType = "categorical"
)

// Category is the fixed taxonomy a dataset is filed under.
type Category string

const (
	CategoryP1                      Category = "P1"
	CategoryP2                      Category = "P2"
	CategoryP3                      Category = "P3"
	CategoryHazard                  Category = "Hazard"
	CategoryUnderlyingVulnerability Category = "Underlying Vulnerability"
)

// Categories lists the taxonomy in rollup order.
var Categories = []Category{
	CategoryP1, CategoryP2, CategoryP3, CategoryHazard, CategoryUnderlyingVulnerability,
}

// Pillars are the categories rolled into the framework score.
var Pillars = []Category{CategoryP1, CategoryP2, CategoryP3}

// IsPillar reports whether c is one of P1/P2/P3.
func (c Category) IsPillar() bool {
	return c == CategoryP1 || c == CategoryP2 || c == CategoryP3
}

// Valid reports whether c belongs to the taxonomy.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory normalizes free-form category names: "pillar 2", "p2" and
// "P2" all give P2, and names match case-insensitively ("uv" is accepted for
// Underlying Vulnerability).
func ParseCategory(s string) (Category, bool) {
	key := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	switch key {
	case "HAZARD":
		return CategoryHazard, true
	case "UNDERLYING VULNERABILITY", "UV":
		return CategoryUnderlyingVulnerability, true
	}
	if strings.HasPrefix(key, "PILLAR") || strings.HasPrefix(key, "P") {
		digits := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(key, "PILLAR"), "P"))
		if c := Category("P" + digits); c.IsPillar() {
			return c, true
		}
	}
	return "", false
}

// Dataset describes one indicator dataset.
type Dataset struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       DatasetType `json:"type"`
	AdminLevel AdminLevel  `json:"admin_level"`
	Category   Category    `json:"category"`
	CountryID  string      `json:"country_id"`
	IsBaseline bool        `json:"is_baseline"`
	IsDerived  bool        `json:"is_derived"`
}

// RawValue is a staged source row, kept permanently for traceability.
type RawValue struct {
	ID        int64   `json:"id"`
	DatasetID string  `json:"dataset_id"`
	RawPcode  string  `json:"raw_pcode"`
	RawName   string  `json:"raw_name"`
	RawValue  string  `json:"raw_value"`
	Weight    float64 `json:"weight"` // occurrence weight for categorical rows, default 1
}

// MatchStatus classifies the outcome of matching one raw row.
type MatchStatus string

const (
	MatchStatusMatched         MatchStatus = "matched"
	MatchStatusNoADM2          MatchStatus = "no_adm2_match"
	MatchStatusNoADM3          MatchStatus = "no_adm3_match"
	MatchStatusNoADM3NameMatch MatchStatus = "no_adm3_name_match"
)

// MatchStatuses lists every status in reporting order.
var MatchStatuses = []MatchStatus{
	MatchStatusMatched, MatchStatusNoADM2, MatchStatusNoADM3, MatchStatusNoADM3NameMatch,
}

// MatchRecord is the derived reconciliation outcome for one raw row.
type MatchRecord struct {
	RawValueID          int64       `json:"raw_value_id"`
	DatasetID           string      `json:"dataset_id"`
	RawPcode            string      `json:"raw_pcode"`
	RawName             string      `json:"raw_name"`
	DerivedRegionCode   string      `json:"derived_region_code"`
	DerivedProvinceCode string      `json:"derived_province_code"`
	DerivedMuniCode     string      `json:"derived_muni_code"`
	MatchedADM2Pcode    string      `json:"matched_adm2_pcode,omitempty"`
	MatchedADM3Pcode    string      `json:"matched_adm3_pcode,omitempty"`
	MatchStatus         MatchStatus `json:"match_status"`
	MatchedByName       bool        `json:"matched_by_name,omitempty"`
	InvalidValue        bool        `json:"invalid_value,omitempty"`
}

// CanonicalPcode returns the deepest matched pcode.
func (r MatchRecord) CanonicalPcode() string {
	if r.MatchedADM3Pcode != "" {
		return r.MatchedADM3Pcode
	}
	return r.MatchedADM2Pcode
}

// CleanValue is a committed, canonically-coded value. Numeric datasets carry
// one row per area with an empty Category; categorical datasets carry one row
// per (area, label) whose Value is the summed occurrence weight.
type CleanValue struct {
	DatasetID  string  `json:"dataset_id"`
	AdminPcode string  `json:"admin_pcode"`
	Value      float64 `json:"value"`
	Category   string  `json:"category,omitempty"`
}
