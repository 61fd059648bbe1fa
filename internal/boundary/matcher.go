package boundary

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// Matcher resolves raw rows against an Index under one Scheme. Matching is
// purely by code hierarchy with an optional name-equality fallback.
type Matcher struct {
	idx    *Index
	scheme Scheme
}

// NewMatcher validates scheme and binds it to idx.
func NewMatcher(idx *Index, scheme Scheme) (*Matcher, error) {
	if idx == nil {
		return nil, eris.New("boundary: matcher needs an index")
	}
	if err := scheme.Validate(); err != nil {
		return nil, eris.Wrap(err, "boundary: scheme")
	}
	return &Matcher{idx: idx, scheme: scheme}, nil
}

// Segments is a raw code split into its transcoded parts.
type Segments struct {
	Region   string // includes the scheme prefix
	Province string
	Muni     string
}

// ADM2 returns the derived ADM2 pcode.
func (s Segments) ADM2() string { return s.Region + s.Province }

// Decompose normalizes raw (uppercase, alphanumerics only, prefix stripped)
// and splits it into transcoded segments. ok is false when the code is too
// short to carry a region and province.
func (m *Matcher) Decompose(raw string) (Segments, bool) {
	code := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, raw)
	prefix := strings.ToUpper(m.scheme.Prefix)
	code = strings.TrimPrefix(code, prefix)

	sc := m.scheme
	if len(code) < sc.RegionLen+sc.ProvinceLen {
		return Segments{}, false
	}
	region := code[:sc.RegionLen]
	province := code[sc.RegionLen : sc.RegionLen+sc.ProvinceLen]
	muni := code[sc.RegionLen+sc.ProvinceLen:]
	if sc.MuniLen > 0 && len(muni) > sc.MuniLen {
		muni = muni[:sc.MuniLen]
	}

	return Segments{
		Region:   prefix + transcode(sc.RegionMap, region),
		Province: transcode(sc.ProvinceMap, province),
		Muni:     transcode(sc.MuniMap, muni),
	}, true
}

// Match classifies one raw row. It never fails: mismatches are statuses.
func (m *Matcher) Match(rv model.RawValue) model.MatchRecord {
	rec := model.MatchRecord{
		RawValueID: rv.ID,
		DatasetID:  rv.DatasetID,
		RawPcode:   rv.RawPcode,
		RawName:    rv.RawName,
	}

	seg, ok := m.Decompose(rv.RawPcode)
	if !ok {
		rec.MatchStatus = model.MatchStatusNoADM2
		return rec
	}
	rec.DerivedRegionCode = seg.Region
	rec.DerivedProvinceCode = seg.Province
	rec.DerivedMuniCode = seg.Muni

	adm2 := seg.ADM2()
	if b, ok := m.idx.Get(adm2); !ok || b.AdminLevel != model.ADM2 {
		rec.MatchStatus = model.MatchStatusNoADM2
		return rec
	}
	rec.MatchedADM2Pcode = adm2
	if m.scheme.TargetLevel == model.ADM2 {
		rec.MatchStatus = model.MatchStatusMatched
		return rec
	}

	children := m.idx.Children(adm2)
	if seg.Muni != "" {
		for _, c := range children {
			if c.AdminLevel == model.ADM3 && strings.TrimPrefix(c.Pcode, adm2) == seg.Muni {
				rec.MatchedADM3Pcode = c.Pcode
				rec.MatchStatus = model.MatchStatusMatched
				return rec
			}
		}
	}

	if !m.scheme.NameFallback || strings.TrimSpace(rv.RawName) == "" {
		rec.MatchStatus = model.MatchStatusNoADM3
		return rec
	}
	if pcode, ok := matchName(children, rv.RawName); ok {
		rec.MatchedADM3Pcode = pcode
		rec.MatchedByName = true
		rec.MatchStatus = model.MatchStatusMatched
		return rec
	}
	rec.MatchStatus = model.MatchStatusNoADM3NameMatch
	return rec
}

// matchName succeeds only on exactly one ADM3 child with an equal
// normalized name.
func matchName(children []model.AdminBoundary, raw string) (string, bool) {
	want := NormalizeName(raw)
	if want == "" {
		return "", false
	}
	var hit string
	for _, c := range children {
		if c.AdminLevel != model.ADM3 || NormalizeName(c.Name) != want {
			continue
		}
		if hit != "" {
			return "", false
		}
		hit = c.Pcode
	}
	return hit, hit != ""
}

func transcode(table map[string]string, seg string) string {
	if v, ok := table[seg]; ok {
		return v
	}
	return seg
}
