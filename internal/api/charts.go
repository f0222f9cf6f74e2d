package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/httputil"
)

// handleDecisionChart renders every logged decision as a score-by-position
// scatter, one series per verdict. Debugging only.
func (s *Server) handleDecisionChart(w http.ResponseWriter, r *http.Request) {
	audits, err := s.db.DecisionScores(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load decisions: %v", err))
		return
	}

	series := map[db.PointStatus][]opts.ScatterData{
		db.StatusProceed: {},
		db.StatusIgnore:  {},
	}
	for _, a := range audits {
		series[a.Decision] = append(series[a.Decision], opts.ScatterData{
			Value: []interface{}{a.Pt, a.Score},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tamping decisions", Theme: "dark", Width: "1000px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Decision score by position", Subtitle: fmt.Sprintf("decisions=%d", len(audits))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "pt", Type: "value", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score", Type: "value", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries(string(db.StatusProceed), series[db.StatusProceed], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries(string(db.StatusIgnore), series[db.StatusIgnore], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
