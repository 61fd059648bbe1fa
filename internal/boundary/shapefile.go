package boundary

import (
	"fmt"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
)

// ShapefileColumns names the attribute columns of an HDX COD-AB layer.
type ShapefileColumns struct {
	Pcode  string
	Name   []string // first non-empty wins
	Parent string
}

// HDXColumns returns the standard ADMn_PCODE / ADMn_EN / ADM(n-1)_PCODE
// columns for level.
func HDXColumns(level model.AdminLevel) ShapefileColumns {
	n := level.Depth()
	cols := ShapefileColumns{
		Pcode: fmt.Sprintf("adm%d_pcode", n),
		Name:  []string{fmt.Sprintf("adm%d_en", n), fmt.Sprintf("adm%d_name", n)},
	}
	if n > 0 {
		cols.Parent = fmt.Sprintf("adm%d_pcode", n-1)
	}
	return cols
}

// LoadShapefile reads one admin level from an HDX boundary shapefile.
// Records without a pcode are skipped; geometry is EWKB (SRID 4326).
func LoadShapefile(shpPath string, level model.AdminLevel, countryID string) ([]model.AdminBoundary, error) {
	if !level.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid admin level %q", level))
	}
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	cols := HDXColumns(level)
	if _, ok := fieldIdx[cols.Pcode]; !ok {
		return nil, model.NewValidationError(fmt.Sprintf("shapefile %s has no %s column", shpPath, strings.ToUpper(cols.Pcode)))
	}
	attr := func(col string) string {
		idx, ok := fieldIdx[col]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var out []model.AdminBoundary
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		b := model.AdminBoundary{
			Pcode:      attr(cols.Pcode),
			AdminLevel: level,
			CountryID:  countryID,
		}
		if b.Pcode == "" {
			skipped++
			continue
		}
		for _, col := range cols.Name {
			if b.Name = attr(col); b.Name != "" {
				break
			}
		}
		if cols.Parent != "" {
			b.ParentPcode = attr(cols.Parent)
		}

		wkb, encErr := EncodeWKB(shape)
		if encErr != nil {
			zap.L().Debug("boundary: dropping geometry", zap.String("pcode", b.Pcode), zap.Error(encErr))
		}
		b.Geom = wkb

		out = append(out, b)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "boundary: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records without pcode",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}
