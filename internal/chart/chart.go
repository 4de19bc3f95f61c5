package chart

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"

	"gaswatch/internal/storage"
)

// ErrNotEnoughPoints is returned when the samples cannot span a chart.
var ErrNotEnoughPoints = errors.New("chart: need at least two samples at distinct times")

// Options size and label the rendered chart.
type Options struct {
	Title  string
	Width  int
	Height int
}

// RenderPNG draws samples as a gwei time series.
func RenderPNG(w io.Writer, samples storage.History, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 512
	}

	sorted := make(storage.History, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	if len(sorted) < 2 || !sorted[0].Time.Before(sorted[len(sorted)-1].Time) {
		return ErrNotEnoughPoints
	}

	x := make([]time.Time, len(sorted))
	y := make([]float64, len(sorted))
	for i, s := range sorted {
		x[i] = s.Time
		y[i] = s.Gwei.InexactFloat64()
	}

	gweiFormatter := func(v interface{}) string {
		return gochart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := gochart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: gochart.XAxis{
			ValueFormatter: gochart.TimeValueFormatter,
		},
		YAxis: gochart.YAxis{
			Name:           "Gas (gwei)",
			Range:          paddedRange(y),
			ValueFormatter: gweiFormatter,
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    "Gas price",
				XValues: x,
				YValues: y,
			},
		},
	}

	return graph.Render(gochart.PNG, w)
}

// PNG renders to an in-memory buffer.
func PNG(samples storage.History, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderPNG(&buf, samples, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// paddedRange keeps flat series renderable.
func paddedRange(values []float64) *gochart.ContinuousRange {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = 0.5
	}
	return &gochart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}
