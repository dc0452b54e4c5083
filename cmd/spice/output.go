package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/edp1096/spicecore/internal/config"
	"github.com/edp1096/spicecore/pkg/analysis"
	"github.com/edp1096/spicecore/pkg/batch"
	"github.com/edp1096/spicecore/pkg/netlist"
	"github.com/edp1096/spicecore/pkg/util"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// series is one plotted or tabulated column.
type series struct {
	name   string
	values []float64
}

func writeResult(w io.Writer, res *analysis.Result, out config.OutputConfig) error {
	signals := out.Signals
	if len(signals) == 0 {
		signals = res.Names()
	}

	fmt.Fprintln(w, titleStyle.Render(analysisTitle(res)))
	if res.Analysis == "op" {
		return writeOperatingPoint(w, res, signals)
	}

	xName, cols, err := columns(res, signals)
	if err != nil {
		return err
	}
	xs := res.X()

	headers := []string{xName}
	for _, c := range cols {
		headers = append(headers, c.name)
	}
	t := newTable(headers...)
	for i, x := range xs {
		row := []string{formatFloat(x, out.Precision)}
		for _, c := range cols {
			row = append(row, formatFloat(c.values[i], out.Precision))
		}
		t.Row(row...)
	}
	fmt.Fprintln(w, t.Render())
	writeStats(w, res)

	// phases are not plotted
	var plotted []series
	for _, c := range cols {
		if !strings.HasSuffix(c.name, " deg") {
			plotted = append(plotted, c)
		}
	}
	if out.Plot && len(xs) > 1 {
		fmt.Fprintln(w, asciiPlot(plotted, xName, out.PlotWidth, out.PlotHeight))
	}
	if out.SVG != "" {
		if err := svgPlot(out.SVG, analysisTitle(res), xName, xs, plotted, len(res.ACPoints) > 0); err != nil {
			return fmt.Errorf("svg: %w", err)
		}
		fmt.Fprintln(w, dimStyle.Render("plot written to "+out.SVG))
	}
	return nil
}

func analysisTitle(res *analysis.Result) string {
	switch res.Analysis {
	case "op":
		return "Operating point"
	case "dc":
		return fmt.Sprintf("DC sweep (%d points)", len(res.Points))
	case "ac":
		return fmt.Sprintf("AC analysis (%d frequencies)", len(res.ACPoints))
	case "tran":
		return fmt.Sprintf("Transient analysis (%d time points)", len(res.Points))
	}
	return res.Analysis
}

func writeOperatingPoint(w io.Writer, res *analysis.Result, signals []string) error {
	t := newTable("Name", "Value")
	for _, sig := range signals {
		v, err := res.At(sig, 0)
		if err != nil {
			return err
		}
		unit := "V"
		if strings.HasPrefix(strings.ToUpper(sig), "I(") {
			unit = "A"
		}
		t.Row(sig, util.FormatValueFactor(v, unit))
	}
	fmt.Fprintln(w, t.Render())
	writeStats(w, res)
	return nil
}

// columns resolves the selected signals. AC signals become a dB
// magnitude and a phase column.
func columns(res *analysis.Result, signals []string) (string, []series, error) {
	var cols []series
	if len(res.ACPoints) > 0 {
		for _, sig := range signals {
			db, err := res.Decibel(sig)
			if err != nil {
				return "", nil, err
			}
			ph, err := res.PhaseDeg(sig)
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, series{sig + " dB", db}, series{sig + " deg", ph})
		}
		return "FREQ", cols, nil
	}

	for _, sig := range signals {
		v, err := res.Series(sig)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, series{sig, v})
	}
	if res.Analysis == "tran" {
		return "TIME", cols, nil
	}
	return "SWEEP", cols, nil
}

func writeStats(w io.Writer, res *analysis.Result) {
	st := res.Stats
	line := fmt.Sprintf("newton iterations %d", st.Iterations)
	if st.GminSteps > 0 {
		line += fmt.Sprintf(", gmin steps %d", st.GminSteps)
	}
	if st.SourceSteps > 0 {
		line += fmt.Sprintf(", source steps %d", st.SourceSteps)
	}
	if st.RejectedSteps > 0 {
		line += fmt.Sprintf(", rejected steps %d", st.RejectedSteps)
	}
	fmt.Fprintln(w, dimStyle.Render(line))
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'g', precision, 64)
}

func asciiPlot(cols []series, xName string, width, height int) string {
	data := make([][]float64, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		data[i] = c.values
		names[i] = c.name
	}
	colors := []asciigraph.AnsiColor{asciigraph.Default, asciigraph.Red, asciigraph.Green, asciigraph.Blue, asciigraph.Yellow, asciigraph.Cyan}
	return asciigraph.PlotMany(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(colors[:min(len(colors), len(data))]...),
		asciigraph.Caption(strings.Join(names, ", ")+" vs "+xName),
	)
}

func svgPlot(path, title, xName string, xs []float64, cols []series, logX bool) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xName
	if logX {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	for i, c := range cols {
		pts := make(plotter.XYs, len(xs))
		for k := range xs {
			pts[k].X, pts[k].Y = xs[k], c.values[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(c.name, line)
	}
	p.Add(plotter.NewGrid())
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

func writeSummaries(w io.Writer, name string, bc config.BatchConfig, sums []batch.Summary) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Monte Carlo %s: %d trials, tolerance %g%%", name, bc.Trials, 100*bc.Tolerance)))
	t := newTable("Signal", "Mean", "Std dev", "Min", "Max", "N", "Failed")
	for _, s := range sums {
		t.Row(s.Signal,
			formatFloat(s.Mean, 6), formatFloat(s.StdDev, 4),
			formatFloat(s.Min, 6), formatFloat(s.Max, 6),
			strconv.Itoa(s.N), strconv.Itoa(s.Failed))
	}
	fmt.Fprintln(w, t.Render())
}

// printDeck lists the parsed elements and analyses.
func printDeck(w io.Writer, data *netlist.NetlistData) {
	fmt.Fprintln(w, titleStyle.Render(data.Title))
	t := newTable("Element", "Type", "Nodes", "Value", "Params")
	for _, e := range data.Elements {
		var params []string
		for _, k := range slices.Sorted(maps.Keys(e.Params)) {
			params = append(params, k+"="+e.Params[k])
		}
		t.Row(e.Name, e.Type, strings.Join(e.Nodes, " "), formatFloat(e.Value, 6), strings.Join(params, " "))
	}
	fmt.Fprintln(w, t.Render())

	var cards []string
	for _, a := range data.Analyses {
		cards = append(cards, "."+a.String())
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d nodes, %d models, analyses: %s",
		len(data.Nodes), len(data.Models), strings.Join(cards, " "))))
}

// printMetrics writes counters and histogram totals of the registry.
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	t := newTable("Metric", "Labels", "Value")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			var value string
			switch {
			case m.GetCounter() != nil:
				value = formatFloat(m.GetCounter().GetValue(), 6)
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				value = fmt.Sprintf("count=%d sum=%s", h.GetSampleCount(), formatFloat(h.GetSampleSum(), 4))
			}
			t.Row(mf.GetName(), strings.Join(labels, " "), value)
		}
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
