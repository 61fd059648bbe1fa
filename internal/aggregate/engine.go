package aggregate

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Engine computes category, framework and overall scores under one
// FrameworkConfig. It holds no state between runs.
type Engine struct {
	cfg model.FrameworkConfig
	log *zap.Logger
}

// NewEngine validates cfg and returns an Engine for it.
func NewEngine(cfg model.FrameworkConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "aggregate: framework config")
	}
	return &Engine{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "aggregate")),
	}, nil
}

// Config returns the framework config the engine runs under.
func (e *Engine) Config() model.FrameworkConfig { return e.cfg }

// Run rolls dataset scores up to category, framework and overall scores for
// every area that has any dataset score. Scores for unknown datasets are
// ignored. Output is sorted by area then scope order.
func (e *Engine) Run(datasets []model.Dataset, datasetScores []model.Score) ([]model.Score, error) {
	categoryOf := make(map[string]model.Category, len(datasets))
	for _, d := range datasets {
		if d.Category.Valid() {
			categoryOf[d.ID] = d.Category
		}
	}

	// area -> category -> dataset -> score
	byArea := make(map[string]map[model.Category]map[string]float64)
	for _, s := range datasetScores {
		cat, ok := categoryOf[s.Scope]
		if !ok {
			continue
		}
		cats := byArea[s.AdminPcode]
		if cats == nil {
			cats = make(map[model.Category]map[string]float64)
			byArea[s.AdminPcode] = cats
		}
		if cats[cat] == nil {
			cats[cat] = make(map[string]float64)
		}
		cats[cat][s.Scope] = s.Value
	}

	areas := make([]string, 0, len(byArea))
	for a := range byArea {
		areas = append(areas, a)
	}
	sort.Strings(areas)

	now := model.Clock().Now().UTC()
	var out []model.Score
	var gaps int
	for _, area := range areas {
		scores, err := e.area(area, byArea[area])
		if err != nil {
			return nil, err
		}
		for i := range scores {
			scores[i].ComputedAt = now
		}
		if !hasScope(scores, model.ScopeOverall) {
			gaps++
		}
		out = append(out, scores...)
	}

	e.log.Debug("rollup complete",
		zap.Int("areas", len(areas)),
		zap.Int("scores", len(out)),
		zap.Int("overall_gaps", gaps),
	)
	return out, nil
}

// area computes every rollup for one area. Each transition only sees the
// scores the previous one produced.
func (e *Engine) area(pcode string, cats map[model.Category]map[string]float64) ([]model.Score, error) {
	var out []model.Score
	categoryScores := make(map[string]float64, len(model.Categories))
	for _, c := range model.Categories {
		children := cats[c]
		if len(children) == 0 {
			continue
		}
		v, ok, err := Rollup(e.cfg.CategoryRollup(c), children)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: category %s for %s", c, pcode)
		}
		if !ok {
			continue
		}
		categoryScores[string(c)] = v
		out = append(out, model.Score{AdminPcode: pcode, Scope: string(c), Value: v})
	}

	pillars := make(map[string]float64, len(model.Pillars))
	for _, p := range model.Pillars {
		if v, ok := categoryScores[string(p)]; ok {
			pillars[string(p)] = v
		}
	}
	overall := make(map[string]float64, 3)
	if len(pillars) > 0 {
		v, ok, err := Rollup(e.cfg.Framework, pillars)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: framework for %s", pcode)
		}
		if ok {
			overall[model.ScopeFramework] = v
			out = append(out, model.Score{AdminPcode: pcode, Scope: model.ScopeFramework, Value: v})
		}
	}

	for _, c := range []model.Category{model.CategoryHazard, model.CategoryUnderlyingVulnerability} {
		if v, ok := categoryScores[string(c)]; ok {
			overall[string(c)] = v
		}
	}
	if len(overall) > 0 {
		v, ok, err := Rollup(e.cfg.Overall, overall)
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: overall for %s", pcode)
		}
		if ok {
			out = append(out, model.Score{AdminPcode: pcode, Scope: model.ScopeOverall, Value: v})
		}
	}
	return out, nil
}

func hasScope(scores []model.Score, scope string) bool {
	for _, s := range scores {
		if s.Scope == scope {
			return true
		}
	}
	return false
}
