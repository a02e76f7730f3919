// Package region picks the sub-image around a click that most likely holds
// the clicked element's label. Only that crop is handed to OCR.
package region

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
)

// ErrEmptyImage is returned when the screenshot has no pixels.
var ErrEmptyImage = errors.New("empty image")

// Selection methods.
const (
	MethodEdges    = "edges"
	MethodFallback = "fallback"
)

// Options bound the selected box.
type Options struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
	// EdgeThreshold is the luminance step (0-255) that counts as a boundary.
	EdgeThreshold float64
	// Padding is added around a detected element so border-hugging text survives the crop.
	Padding int
	// Consistency is the fraction of sampled lines that must agree on a boundary.
	Consistency float64
}

// DefaultOptions returns the selector defaults.
func DefaultOptions() Options {
	return Options{
		MaxWidth:      400,
		MaxHeight:     200,
		MinWidth:      40,
		MinHeight:     20,
		EdgeThreshold: 40,
		Padding:       4,
		Consistency:   0.6,
	}
}

// Box is the selected crop in image coordinates.
type Box struct {
	Rect   image.Rectangle `json:"rect"`
	Method string          `json:"method"`
}

// Selector computes OCR crop boxes.
type Selector struct {
	opts Options
}

// New returns a selector. Zero fields fall back to DefaultOptions.
func New(opts Options) *Selector {
	def := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = def.MaxHeight
	}
	if opts.MinWidth <= 0 {
		opts.MinWidth = def.MinWidth
	}
	if opts.MinHeight <= 0 {
		opts.MinHeight = def.MinHeight
	}
	if opts.MinWidth > opts.MaxWidth {
		opts.MinWidth = opts.MaxWidth
	}
	if opts.MinHeight > opts.MaxHeight {
		opts.MinHeight = opts.MaxHeight
	}
	if opts.EdgeThreshold <= 0 {
		opts.EdgeThreshold = def.EdgeThreshold
	}
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	if opts.Consistency <= 0 || opts.Consistency > 1 {
		opts.Consistency = def.Consistency
	}
	return &Selector{opts: opts}
}

// Select returns the crop box for a click at pt (image coordinates). It
// expands outward from the click until it meets consistent contrast
// boundaries on all four sides; if any side has none within the maximum box
// it falls back to a fixed-size box centred on the click.
func (s *Selector) Select(img image.Image, pt image.Point) (Box, error) {
	if img == nil || img.Bounds().Empty() {
		return Box{}, ErrEmptyImage
	}
	b := img.Bounds()
	pt.X = clampInt(pt.X, b.Min.X, b.Max.X-1)
	pt.Y = clampInt(pt.Y, b.Min.Y, b.Max.Y-1)

	halfW := maxInt(s.opts.MaxWidth/2, 30) + 2
	halfH := maxInt(s.opts.MaxHeight/2, 30) + 2
	window := image.Rect(pt.X-halfW, pt.Y-halfH, pt.X+halfW+1, pt.Y+halfH+1).Intersect(b)

	g := newGray(img, window)
	if rect, ok := s.edgeBox(g, pt, b); ok {
		return Box{Rect: rect, Method: MethodEdges}, nil
	}
	return Box{Rect: s.fallbackBox(g, pt, b), Method: MethodFallback}, nil
}

func (s *Selector) edgeBox(g *gray, pt image.Point, bounds image.Rectangle) (image.Rectangle, bool) {
	o := s.opts
	rows := span(pt.Y, o.MinHeight/2, g.bounds.Min.Y, g.bounds.Max.Y-1)
	cols := span(pt.X, o.MinWidth/2, g.bounds.Min.X, g.bounds.Max.X-1)

	left, okL := s.scan(o.MinWidth/2, o.MaxWidth/2, func(d int) (int, bool) {
		x := pt.X - d
		if x-1 < g.bounds.Min.X {
			return 0, false
		}
		return x, g.verticalEdge(x-1, x, rows, o.EdgeThreshold, o.Consistency)
	})
	right, okR := s.scan(o.MinWidth/2, o.MaxWidth/2, func(d int) (int, bool) {
		x := pt.X + d
		if x+1 >= g.bounds.Max.X {
			return 0, false
		}
		return x, g.verticalEdge(x, x+1, rows, o.EdgeThreshold, o.Consistency)
	})
	top, okT := s.scan(o.MinHeight/2, o.MaxHeight/2, func(d int) (int, bool) {
		y := pt.Y - d
		if y-1 < g.bounds.Min.Y {
			return 0, false
		}
		return y, g.horizontalEdge(y-1, y, cols, o.EdgeThreshold, o.Consistency)
	})
	bottom, okB := s.scan(o.MinHeight/2, o.MaxHeight/2, func(d int) (int, bool) {
		y := pt.Y + d
		if y+1 >= g.bounds.Max.Y {
			return 0, false
		}
		return y, g.horizontalEdge(y, y+1, cols, o.EdgeThreshold, o.Consistency)
	})
	if !okL || !okR || !okT || !okB {
		return image.Rectangle{}, false
	}

	rect := image.Rect(left-o.Padding, top-o.Padding, right+1+o.Padding, bottom+1+o.Padding)
	if rect.Dx() > o.MaxWidth {
		rect.Min.X, rect.Max.X = centered(pt.X, o.MaxWidth)
	}
	if rect.Dy() > o.MaxHeight {
		rect.Min.Y, rect.Max.Y = centered(pt.Y, o.MaxHeight)
	}
	return fit(rect, bounds), true
}

func (s *Selector) scan(from, to int, probe func(d int) (int, bool)) (int, bool) {
	if from < 1 {
		from = 1
	}
	for d := from; d <= to; d++ {
		pos, hit := probe(d)
		if hit {
			return pos, true
		}
	}
	return 0, false
}

// fallbackBox sizes the box by local pixel variance: busy regions get more room.
func (s *Selector) fallbackBox(g *gray, pt image.Point, bounds image.Rectangle) image.Rectangle {
	w, h := 80, 40
	switch v := g.variance(image.Rect(pt.X-30, pt.Y-30, pt.X+30, pt.Y+30)); {
	case v > 2000:
		w, h = 120, 60
	case v > 1000:
		w, h = 100, 50
	}
	w = clampInt(w, s.opts.MinWidth, s.opts.MaxWidth)
	h = clampInt(h, s.opts.MinHeight, s.opts.MaxHeight)

	x0, x1 := centered(pt.X, w)
	y0, y1 := centered(pt.Y, h)
	return fit(image.Rect(x0, y0, x1, y1), bounds)
}

// Crop returns the pixels inside rect. Images that support SubImage share
// their backing store; others are copied.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

type gray struct {
	bounds image.Rectangle
	pix    []float64
}

// newGray converts only the window around the click to luminance.
func newGray(img image.Image, b image.Rectangle) *gray {
	g := &gray{bounds: b, pix: make([]float64, b.Dx()*b.Dy())}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			g.pix[(y-b.Min.Y)*b.Dx()+(x-b.Min.X)] = float64(c.Y)
		}
	}
	return g
}

func (g *gray) at(x, y int) float64 {
	return g.pix[(y-g.bounds.Min.Y)*g.bounds.Dx()+(x-g.bounds.Min.X)]
}

func (g *gray) verticalEdge(x0, x1 int, rows [2]int, threshold, consistency float64) bool {
	hits, total := 0, 0
	for y := rows[0]; y <= rows[1]; y++ {
		total++
		if abs(g.at(x0, y)-g.at(x1, y)) >= threshold {
			hits++
		}
	}
	return total > 0 && float64(hits)/float64(total) >= consistency
}

func (g *gray) horizontalEdge(y0, y1 int, cols [2]int, threshold, consistency float64) bool {
	hits, total := 0, 0
	for x := cols[0]; x <= cols[1]; x++ {
		total++
		if abs(g.at(x, y0)-g.at(x, y1)) >= threshold {
			hits++
		}
	}
	return total > 0 && float64(hits)/float64(total) >= consistency
}

func (g *gray) variance(r image.Rectangle) float64 {
	r = r.Intersect(g.bounds)
	n := float64(r.Dx() * r.Dy())
	if n == 0 {
		return 0
	}
	var sum, sq float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := g.at(x, y)
			sum += v
			sq += v * v
		}
	}
	mean := sum / n
	return sq/n - mean*mean
}

func span(center, half, lo, hi int) [2]int {
	return [2]int{clampInt(center-half, lo, hi), clampInt(center+half, lo, hi)}
}

func centered(c, size int) (int, int) {
	start := c - size/2
	return start, start + size
}

// fit shifts rect inside bounds where possible and clips what still overflows.
func fit(rect, bounds image.Rectangle) image.Rectangle {
	if rect.Min.X < bounds.Min.X {
		rect = rect.Add(image.Pt(bounds.Min.X-rect.Min.X, 0))
	}
	if rect.Max.X > bounds.Max.X {
		rect = rect.Add(image.Pt(bounds.Max.X-rect.Max.X, 0))
	}
	if rect.Min.Y < bounds.Min.Y {
		rect = rect.Add(image.Pt(0, bounds.Min.Y-rect.Min.Y))
	}
	if rect.Max.Y > bounds.Max.Y {
		rect = rect.Add(image.Pt(0, bounds.Max.Y-rect.Max.Y))
	}
	return rect.Intersect(bounds)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
