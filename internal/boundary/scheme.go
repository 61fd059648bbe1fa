package boundary

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Scheme is the transcoding table for one source coding scheme. A raw code
// is read as Prefix + region + province + municipality, each segment a fixed
// number of characters. A MuniLen of 0 takes the remainder.
type Scheme struct {
	Name         string            `yaml:"name" json:"name"`
	Prefix       string            `yaml:"prefix" json:"prefix"`
	RegionLen    int               `yaml:"region_len" json:"region_len"`
	ProvinceLen  int               `yaml:"province_len" json:"province_len"`
	MuniLen      int               `yaml:"muni_len" json:"muni_len"`
	RegionMap    map[string]string `yaml:"region_map,omitempty" json:"region_map,omitempty"`
	ProvinceMap  map[string]string `yaml:"province_map,omitempty" json:"province_map,omitempty"`
	MuniMap      map[string]string `yaml:"muni_map,omitempty" json:"muni_map,omitempty"`
	NameFallback bool              `yaml:"name_fallback" json:"name_fallback"`
	// TargetLevel is ADM3 (default) or ADM2.
	TargetLevel model.AdminLevel `yaml:"target_level,omitempty" json:"target_level,omitempty"`
}

// PhilippinesScheme reads PSGC-style codes such as "PH07/02/2001".
func PhilippinesScheme() Scheme {
	return Scheme{
		Name:         "psgc",
		Prefix:       "PH",
		RegionLen:    2,
		ProvinceLen:  2,
		NameFallback: true,
		TargetLevel:  model.ADM3,
	}
}

// Validate checks segment lengths and applies the ADM3 default.
func (s *Scheme) Validate() error {
	var problems []string
	if s.RegionLen <= 0 {
		problems = append(problems, "region_len must be > 0")
	}
	if s.ProvinceLen <= 0 {
		problems = append(problems, "province_len must be > 0")
	}
	if s.MuniLen < 0 {
		problems = append(problems, "muni_len must be >= 0")
	}
	if s.TargetLevel == "" {
		s.TargetLevel = model.ADM3
	}
	if s.TargetLevel != model.ADM2 && s.TargetLevel != model.ADM3 {
		problems = append(problems, fmt.Sprintf("target_level must be ADM2 or ADM3, got %q", s.TargetLevel))
	}
	if len(problems) > 0 {
		return model.NewValidationError(problems...)
	}
	return nil
}

type schemeFile struct {
	Schemes []Scheme `yaml:"schemes"`
}

// LoadSchemes reads coding schemes from a YAML file keyed by name.
func LoadSchemes(path string) (map[string]Scheme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read schemes %s", path)
	}
	var f schemeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "boundary: parse schemes %s", path)
	}
	out := make(map[string]Scheme, len(f.Schemes))
	for _, s := range f.Schemes {
		if err := s.Validate(); err != nil {
			return nil, eris.Wrapf(err, "boundary: scheme %q", s.Name)
		}
		out[s.Name] = s
	}
	return out, nil
}
