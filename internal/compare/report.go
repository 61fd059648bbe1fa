package compare

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rotisserie/eris"
)

var reportHeader = []string{
	"Scope", "Pairs", "Avg Δ", "MAE", "RMSE", "Corr", "Significant", "Exact", "Match %", "Legacy only", "Current only",
}

// WriteTable renders res as a human-readable table followed by the pooled
// figures. Deltas are colored when useColors is set.
func WriteTable(w io.Writer, res Result, useColors bool) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header(reportHeader)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	red, green, plain := fmt.Sprint, fmt.Sprint, fmt.Sprint
	if useColors {
		red = color.New(color.FgRed).SprintFunc()
		green = color.New(color.FgGreen).SprintFunc()
		plain = color.New(color.FgYellow).SprintFunc()
	}

	var data [][]string
	for _, st := range append(append([]Stats(nil), res.Scopes...), res.All) {
		var delta string
		switch {
		case st.AvgDelta > 0:
			delta = red(fmt.Sprintf("+%.3f ▲", st.AvgDelta))
		case st.AvgDelta < 0:
			delta = green(fmt.Sprintf("%.3f ▼", st.AvgDelta))
		default:
			delta = plain("0.000")
		}
		data = append(data, []string{
			st.Scope,
			strconv.Itoa(st.Pairs),
			delta,
			fmt.Sprintf("%.3f", st.MAE),
			fmt.Sprintf("%.3f", st.RMSE),
			formatCorrelation(st.Correlation),
			strconv.Itoa(st.SignificantChanges),
			strconv.Itoa(st.ExactMatches),
			fmt.Sprintf("%.1f", st.MatchRate*100),
			strconv.Itoa(st.LegacyOnly),
			strconv.Itoa(st.CurrentOnly),
		})
	}

	if err := table.Bulk(data); err != nil {
		return eris.Wrap(err, "compare: table rows")
	}
	if err := table.Render(); err != nil {
		return eris.Wrap(err, "compare: render table")
	}
	_, err := fmt.Fprintf(w, "Compared %d pairs: %d significant changes (|Δ| > %.1f), match rate %.1f%%\n",
		res.All.Pairs, res.All.SignificantChanges, SignificantDelta, res.All.MatchRate*100)
	return err
}

// WriteCSV writes one row per scope plus the pooled row.
func WriteCSV(w io.Writer, res Result) error {
	cw := csv.NewWriter(w)
	header := []string{
		"scope", "pairs", "avg_delta", "mae", "rmse", "correlation",
		"significant_changes", "exact_matches", "match_rate", "legacy_only", "current_only",
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "compare: csv header")
	}
	for _, st := range append(append([]Stats(nil), res.Scopes...), res.All) {
		corr := ""
		if st.Correlation != nil {
			corr = strconv.FormatFloat(*st.Correlation, 'f', 6, 64)
		}
		row := []string{
			st.Scope,
			strconv.Itoa(st.Pairs),
			strconv.FormatFloat(st.AvgDelta, 'f', 6, 64),
			strconv.FormatFloat(st.MAE, 'f', 6, 64),
			strconv.FormatFloat(st.RMSE, 'f', 6, 64),
			corr,
			strconv.Itoa(st.SignificantChanges),
			strconv.Itoa(st.ExactMatches),
			strconv.FormatFloat(st.MatchRate, 'f', 6, 64),
			strconv.Itoa(st.LegacyOnly),
			strconv.Itoa(st.CurrentOnly),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "compare: csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "compare: flush csv")
}

func formatCorrelation(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *r)
}
