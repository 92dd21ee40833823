package export

import (
	"errors"
	"io"
	"math"
	"os"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"watch-arbitrage/internal/forecast"
	"watch-arbitrage/internal/model"
)

// MaxChartPoints caps the number of samples drawn per series.
const MaxChartPoints = 500

// WriteOpportunityChart renders the mean profit percentage per foreign currency as a bar chart.
func WriteOpportunityChart(path string, opps []model.Opportunity, reference string) error {
	if len(opps) == 0 {
		return errors.New("no opportunities to chart")
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, o := range opps {
		code := o.ForeignCurrency()
		sums[code] += o.ProfitPct.InexactFloat64()
		counts[code]++
	}
	codes := make([]string, 0, len(sums))
	for code := range sums {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	bars := make([]chart.Value, 0, len(codes))
	for _, code := range codes {
		bars = append(bars, chart.Value{
			Label: code + " (" + itoa(counts[code]) + ")",
			Value: sums[code] / float64(counts[code]),
		})
	}

	graph := chart.BarChart{
		Title:    "Mean arbitrage profit vs " + reference + " (%)",
		Width:    1280,
		Height:   720,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Bars: bars,
	}

	return renderPNG(path, graph.Render)
}

// WriteForecastChart renders the observed series and its projected trend line.
func WriteForecastChart(path string, res forecast.Result) error {
	if len(res.Points) == 0 {
		return errors.New("forecast has no points")
	}

	points := downsamplePoints(res.Points, MaxChartPoints)
	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Date
		y[i] = p.Price.InexactFloat64()
	}

	first := res.Points[0].Date
	trendAt := func(t time.Time) float64 {
		return res.Intercept + res.Slope*float64(t.Unix()/86400)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  res.ProductID + " " + res.Currency + " forecast",
		Width:  1280,
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Reference price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Observed",
				XValues: x,
				YValues: y,
			},
			chart.TimeSeries{
				Name:    "Trend",
				XValues: []time.Time{first, res.ForecastDate},
				YValues: []float64{trendAt(first), trendAt(res.ForecastDate)},
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return renderPNG(path, graph.Render)
}

func renderPNG(path string, render func(chart.RendererProvider, io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return render(chart.PNG, file)
}

func downsamplePoints(points []forecast.Point, max int) []forecast.Point {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]forecast.Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}
