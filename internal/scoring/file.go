package scoring

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// frameworkFile is the on-disk framework document. Category names and
// pillar weight keys are free-form and normalized on load.
type frameworkFile struct {
	Name       string                        `yaml:"name"`
	Categories map[string]model.RollupConfig `yaml:"categories"`
	Framework  model.RollupConfig            `yaml:"framework"`
	Overall    model.RollupConfig            `yaml:"overall"`
}

// LoadFrameworkFile reads a framework config from YAML. Unset steps fall
// back to the default config. The result is validated.
func LoadFrameworkFile(path string) (model.FrameworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FrameworkConfig{}, eris.Wrapf(err, "scoring: read framework file %s", path)
	}
	return ParseFrameworkYAML(data)
}

// ParseFrameworkYAML decodes a framework document.
func ParseFrameworkYAML(data []byte) (model.FrameworkConfig, error) {
	var f frameworkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.FrameworkConfig{}, model.NewValidationError("framework file: " + err.Error())
	}

	cfg := model.DefaultFrameworkConfig()
	if f.Name != "" {
		cfg.Name = f.Name
	}
	var problems []string
	for raw, rc := range f.Categories {
		c, ok := model.ParseCategory(raw)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown category %q", raw))
			continue
		}
		cfg.Categories[c] = rc
	}
	if f.Framework.Method != "" {
		w, errs := normalizeKeys(f.Framework.Weights, pillarKey)
		problems = append(problems, errs...)
		f.Framework.Weights = w
		cfg.Framework = f.Framework
	}
	if f.Overall.Method != "" {
		w, errs := normalizeKeys(f.Overall.Weights, overallKey)
		problems = append(problems, errs...)
		f.Overall.Weights = w
		cfg.Overall = f.Overall
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return model.FrameworkConfig{}, model.NewValidationError(problems...)
	}
	if err := cfg.Validate(); err != nil {
		return model.FrameworkConfig{}, err
	}
	return cfg, nil
}

// MarshalFrameworkYAML writes cfg in the framework file format.
func MarshalFrameworkYAML(cfg model.FrameworkConfig) ([]byte, error) {
	f := frameworkFile{
		Name:       cfg.Name,
		Categories: make(map[string]model.RollupConfig, len(cfg.Categories)),
		Framework:  cfg.Framework,
		Overall:    cfg.Overall,
	}
	for c, rc := range cfg.Categories {
		f.Categories[string(c)] = rc
	}
	out, err := yaml.Marshal(f)
	return out, eris.Wrap(err, "scoring: marshal framework")
}

func pillarKey(k string) (string, bool) {
	c, ok := model.ParseCategory(k)
	if !ok || !c.IsPillar() {
		return "", false
	}
	return string(c), true
}

func overallKey(k string) (string, bool) {
	if strings.EqualFold(strings.TrimSpace(k), model.ScopeFramework) {
		return model.ScopeFramework, true
	}
	c, ok := model.ParseCategory(k)
	if !ok || c.IsPillar() {
		return "", false
	}
	return string(c), true
}

func normalizeKeys(w map[string]float64, norm func(string) (string, bool)) (map[string]float64, []string) {
	if len(w) == 0 {
		return w, nil
	}
	out := make(map[string]float64, len(w))
	var problems []string
	for k, v := range w {
		key, ok := norm(k)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown weight key %q", k))
			continue
		}
		if _, dup := out[key]; dup {
			problems = append(problems, fmt.Sprintf("duplicate weight key %q", key))
			continue
		}
		out[key] = v
	}
	return out, problems
}
