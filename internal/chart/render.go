// Package chart renders one bar chart per numeric dataset column.
package chart

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"runtime"
	"strconv"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/sync/errgroup"

	"ledgersheet/internal/core"
	"ledgersheet/internal/log"
)

const xAxisName = "Índice"

var barColor = drawing.ColorFromHex("1f77b4")

// Options sizes the rendered images.
type Options struct {
	Width  int
	Height int
	// Workers bounds how many columns render at once. Zero means GOMAXPROCS.
	Workers int
}

// DefaultOptions returns 640x480 images.
func DefaultOptions() Options {
	return Options{Width: 640, Height: 480}
}

// Image is one rendered PNG.
type Image struct {
	Column string
	PNG    []byte
}

// Base64 returns the PNG as standard base64.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.PNG)
}

// Renderer draws bar charts. It keeps no state between calls.
type Renderer struct {
	opts   Options
	logger *log.Logger
}

// NewRenderer returns a renderer, filling zero sizes with the defaults.
func NewRenderer(opts Options, logger *log.Logger) *Renderer {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Renderer{opts: opts, logger: logger.WithComponent(log.ComponentChart)}
}

// Render returns one image per numeric column, in column order. A dataset
// with no rows or no numeric column yields an empty slice.
func (r *Renderer) Render(ctx context.Context, ds *core.Dataset) ([]Image, error) {
	if ds == nil || len(ds.Rows) == 0 {
		return []Image{}, nil
	}
	columns := ds.NumericColumns()
	images := make([]Image, len(columns))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, col := range columns {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			png, err := r.RenderColumn(ds, col.Name)
			if err != nil {
				return err
			}
			images[i] = Image{Column: col.Name, PNG: png}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.DebugContext(ctx, "Charts rendered",
		log.FieldDataset, ds.Name,
		log.FieldRows, len(ds.Rows),
		log.FieldCharts, len(images))
	return images, nil
}

// RenderColumn draws a single column: one bar per row, labelled with the
// row's 0-based index. Empty cells are drawn as zero.
func (r *Renderer) RenderColumn(ds *core.Dataset, column string) ([]byte, error) {
	if _, ok := ds.Column(column); !ok {
		return nil, core.Validationf("unknown column %q", column)
	}
	if len(ds.Rows) == 0 {
		return nil, core.Validationf("dataset %q has no rows", ds.Name)
	}

	bars := make([]gochart.Value, len(ds.Rows))
	lo, hi := 0.0, 0.0
	for i := range ds.Rows {
		v := ds.Get(i, column).Float64()
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		bars[i] = gochart.Value{
			Label: strconv.Itoa(i),
			Value: v,
			Style: gochart.Style{FillColor: barColor, StrokeColor: barColor, StrokeWidth: 1},
		}
	}
	if hi == lo {
		hi = lo + 1
	}

	bc := gochart.BarChart{
		Title:  column,
		Width:  r.opts.Width,
		Height: r.opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 10, Right: 20, Bottom: 30},
		},
		BarWidth:     barWidth(r.opts.Width, len(bars)),
		XAxis:        gochart.Style{},
		YAxis:        gochart.YAxis{Name: column, Range: &gochart.ContinuousRange{Min: lo, Max: hi}},
		UseBaseValue: true,
		BaseValue:    0,
		Bars:         bars,
	}
	bc.Elements = []gochart.Renderable{axisName(xAxisName, r.opts.Height)}

	var buf bytes.Buffer
	if err := bc.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render %q: %w", column, err)
	}
	return buf.Bytes(), nil
}

// barWidth spreads the bars over roughly two thirds of the image.
func barWidth(width, n int) int {
	if n <= 0 {
		return 0
	}
	w := (width * 2 / 3) / n
	switch {
	case w < 2:
		return 2
	case w > 60:
		return 60
	}
	return w
}

// axisName writes a caption centred under the plot area.
func axisName(text string, height int) gochart.Renderable {
	return func(rd gochart.Renderer, canvas gochart.Box, defaults gochart.Style) {
		style := gochart.Style{
			FontSize:  10,
			FontColor: drawing.ColorBlack,
		}.InheritFrom(defaults)
		style.WriteToRenderer(rd)
		tb := rd.MeasureText(text)
		x := canvas.Left + (canvas.Width()-tb.Width())/2
		rd.Text(text, x, height-8)
	}
}
