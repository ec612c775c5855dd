package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/ballot.scanner/internal/httputil"
)

// AttachDebugRoutes adds the timings chart and its JSON form to the /debug/
// index.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("timings", "State dwell times", s.handleTimingsChart)
	debug.HandleFunc("timings.json", "State dwell times (JSON)", s.handleTimingsJSON)
}

func (s *Server) handleTimingsJSON(w http.ResponseWriter, r *http.Request) {
	if s.timings == nil {
		httputil.NotFound(w, "timings are not being collected")
		return
	}
	httputil.WriteJSONOK(w, s.timings.Summary())
}

// handleTimingsChart renders mean and p95 dwell time per state as a bar chart.
func (s *Server) handleTimingsChart(w http.ResponseWriter, r *http.Request) {
	if s.timings == nil {
		httputil.NotFound(w, "timings are not being collected")
		return
	}
	summary := s.timings.Summary()

	states := make([]string, 0, len(summary))
	mean := make([]opts.BarData, 0, len(summary))
	p95 := make([]opts.BarData, 0, len(summary))
	total := 0
	for _, d := range summary {
		states = append(states, d.State.String())
		mean = append(mean, opts.BarData{Value: d.Mean, Name: fmt.Sprintf("%d samples", d.Count)})
		p95 = append(p95, opts.BarData{Value: d.P95})
		total += d.Count
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scanner state timings", Theme: "dark", Width: "1100px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Time in state", Subtitle: fmt.Sprintf("%d transitions", total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "state"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	bar.SetXAxis(states).
		AddSeries("mean", mean,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("p95", p95)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
