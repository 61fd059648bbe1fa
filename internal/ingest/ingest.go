// Package ingest stages raw indicator rows from CSV or XLSX files under an
// explicit column mapping.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/store"
)

// DefaultChunkSize bounds how many rows go to the store per insert.
const DefaultChunkSize = 1000

// Mapping names the source columns holding each raw field. Header matching
// ignores case and surrounding whitespace. Name and Weight are optional.
type Mapping struct {
	Pcode  string `json:"pcode" yaml:"pcode" mapstructure:"pcode"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Value  string `json:"value" yaml:"value" mapstructure:"value"`
	Weight string `json:"weight,omitempty" yaml:"weight,omitempty" mapstructure:"weight"`
}

// Validate checks the required columns are named.
func (m Mapping) Validate() error {
	var errs []string
	if strings.TrimSpace(m.Pcode) == "" {
		errs = append(errs, "column mapping: pcode column is required")
	}
	if strings.TrimSpace(m.Value) == "" {
		errs = append(errs, "column mapping: value column is required")
	}
	if len(errs) > 0 {
		return model.NewValidationError(errs...)
	}
	return nil
}

// Options configures one file load.
type Options struct {
	Mapping Mapping
	// Format is csv or xlsx. Empty infers it from the file extension.
	Format    string
	Sheet     string
	Delimiter rune
	ChunkSize int
}

// Result reports a load.
type Result struct {
	DatasetID string `json:"dataset_id"`
	Rows      int    `json:"rows"`
	Inserted  int64  `json:"inserted"`
	Skipped   int    `json:"skipped"`
}

type columns struct {
	pcode, name, value, weight int
}

// resolve maps header names to column indexes.
func (m Mapping) resolve(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	var missing []string
	find := func(name string) int {
		if strings.TrimSpace(name) == "" {
			return -1
		}
		if i, ok := idx[strings.ToLower(strings.TrimSpace(name))]; ok {
			return i
		}
		missing = append(missing, fmt.Sprintf("column %q not found in header", name))
		return -1
	}
	cols := columns{
		pcode:  find(m.Pcode),
		name:   find(m.Name),
		value:  find(m.Value),
		weight: find(m.Weight),
	}
	if len(missing) > 0 {
		return cols, model.NewValidationError(missing...)
	}
	return cols, nil
}

// ParseRows turns header-first rows into raw values. Blank rows and rows with
// neither a pcode nor a name are skipped. A non-numeric weight is a
// ValidationError naming the row.
func ParseRows(datasetID string, rows [][]string, m Mapping) ([]model.RawValue, int, error) {
	if err := m.Validate(); err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, model.NewValidationError("file has no header row")
	}
	cols, err := m.resolve(rows[0])
	if err != nil {
		return nil, 0, err
	}

	var out []model.RawValue
	var skipped int
	var problems []string
	for i, row := range rows[1:] {
		if blank(row) {
			skipped++
			continue
		}
		rv := model.RawValue{
			DatasetID: datasetID,
			RawPcode:  strings.TrimSpace(cell(row, cols.pcode)),
			RawName:   strings.TrimSpace(cell(row, cols.name)),
			RawValue:  cell(row, cols.value),
			Weight:    1,
		}
		if rv.RawPcode == "" && rv.RawName == "" {
			skipped++
			continue
		}
		if w := strings.TrimSpace(cell(row, cols.weight)); w != "" {
			f, err := strconv.ParseFloat(w, 64)
			if err != nil || f < 0 {
				problems = append(problems, fmt.Sprintf("row %d: weight %q is not a non-negative number", i+2, w))
				continue
			}
			rv.Weight = f
		}
		out = append(out, rv)
	}
	if len(problems) > 0 {
		return nil, skipped, model.NewValidationError(problems...)
	}
	return out, skipped, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// Loader writes parsed files into the raw value staging table.
type Loader struct {
	store store.Store
	log   *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(st store.Store) *Loader {
	return &Loader{store: st, log: zap.L().With(zap.String("component", "ingest"))}
}

// LoadFile parses path and inserts its rows for datasetID. The file is fully
// parsed and validated before anything is written.
func (l *Loader) LoadFile(ctx context.Context, datasetID, path string, opts Options) (*Result, error) {
	if _, err := l.store.GetDataset(ctx, datasetID); err != nil {
		return nil, eris.Wrap(err, "ingest: load dataset")
	}
	if err := opts.Mapping.Validate(); err != nil {
		return nil, err
	}

	rows, err := readAll(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	values, skipped, err := ParseRows(datasetID, rows, opts.Mapping)
	if err != nil {
		return nil, err
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	res := &Result{DatasetID: datasetID, Rows: len(values), Skipped: skipped}
	for start := 0; start < len(values); start += chunk {
		end := min(start+chunk, len(values))
		n, err := l.store.InsertRawValues(ctx, values[start:end])
		if err != nil {
			return res, eris.Wrapf(err, "ingest: insert rows %d-%d", start, end)
		}
		res.Inserted += n
	}

	l.log.Info("raw values staged",
		zap.String("dataset_id", datasetID),
		zap.String("file", filepath.Base(path)),
		zap.Int("rows", res.Rows),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func readAll(ctx context.Context, path string, opts Options) ([][]string, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	var rowCh <-chan []string
	var errCh <-chan error
	switch format {
	case "csv", "tsv", "txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		delim := opts.Delimiter
		if delim == 0 && format == "tsv" {
			delim = '\t'
		}
		rowCh, errCh = StreamCSV(ctx, f, delim)
	case "xlsx":
		rowCh, errCh = StreamXLSX(ctx, path, opts.Sheet)
	default:
		return nil, model.NewValidationError(fmt.Sprintf("unsupported file format %q", format))
	}

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}
