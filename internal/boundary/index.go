// Package boundary resolves raw administrative references to canonical
// boundary pcodes.
package boundary

import (
	"fmt"
	"sort"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Index is an in-memory view of a country's boundaries keyed by pcode.
type Index struct {
	byPcode  map[string]model.AdminBoundary
	children map[string][]model.AdminBoundary
}

// NewIndex builds an Index. Boundaries whose parent is loaded must sit at
// the level directly below it; a parent outside the loaded set is allowed so
// callers can index a subset of levels.
func NewIndex(boundaries []model.AdminBoundary) (*Index, error) {
	idx := &Index{
		byPcode:  make(map[string]model.AdminBoundary, len(boundaries)),
		children: make(map[string][]model.AdminBoundary),
	}
	var problems []string
	for _, b := range boundaries {
		if !b.AdminLevel.Valid() {
			problems = append(problems, fmt.Sprintf("%s: invalid admin level %q", b.Pcode, b.AdminLevel))
			continue
		}
		if _, dup := idx.byPcode[b.Pcode]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate pcode", b.Pcode))
			continue
		}
		idx.byPcode[b.Pcode] = b
	}

	for _, b := range idx.byPcode {
		if b.AdminLevel == model.ADM0 {
			continue
		}
		if b.ParentPcode == "" {
			problems = append(problems, fmt.Sprintf("%s: %s boundary has no parent", b.Pcode, b.AdminLevel))
			continue
		}
		parent, ok := idx.byPcode[b.ParentPcode]
		if !ok {
			idx.children[b.ParentPcode] = append(idx.children[b.ParentPcode], b)
			continue
		}
		if want, _ := b.AdminLevel.Parent(); parent.AdminLevel != want {
			problems = append(problems, fmt.Sprintf("%s: parent %s is %s, want %s",
				b.Pcode, parent.Pcode, parent.AdminLevel, want))
			continue
		}
		idx.children[b.ParentPcode] = append(idx.children[b.ParentPcode], b)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, model.NewValidationError(problems...)
	}
	for k := range idx.children {
		kids := idx.children[k]
		sort.Slice(kids, func(i, j int) bool { return kids[i].Pcode < kids[j].Pcode })
	}
	return idx, nil
}

// Len returns the number of indexed boundaries.
func (x *Index) Len() int { return len(x.byPcode) }

// Get looks up a boundary by pcode.
func (x *Index) Get(pcode string) (model.AdminBoundary, bool) {
	b, ok := x.byPcode[pcode]
	return b, ok
}

// Children returns the direct children of pcode ordered by pcode.
func (x *Index) Children(pcode string) []model.AdminBoundary {
	return x.children[pcode]
}

// Level returns every boundary at level l ordered by pcode.
func (x *Index) Level(l model.AdminLevel) []model.AdminBoundary {
	var out []model.AdminBoundary
	for _, b := range x.byPcode {
		if b.AdminLevel == l {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pcode < out[j].Pcode })
	return out
}

// ValidateHierarchy is the strict import check: every boundary below the
// shallowest level in the set must have its parent in the set.
func ValidateHierarchy(boundaries []model.AdminBoundary) error {
	idx, err := NewIndex(boundaries)
	if err != nil {
		return err
	}
	top := -1
	for _, b := range boundaries {
		if d := b.AdminLevel.Depth(); top < 0 || d < top {
			top = d
		}
	}
	var problems []string
	for _, b := range boundaries {
		if b.AdminLevel.Depth() == top {
			continue
		}
		if _, ok := idx.Get(b.ParentPcode); !ok {
			problems = append(problems, fmt.Sprintf("%s: parent %s not found", b.Pcode, b.ParentPcode))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return model.NewValidationError(problems...)
	}
	return nil
}
