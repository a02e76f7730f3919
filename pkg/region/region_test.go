package region

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func canvas(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestSelectFindsButtonEdges(t *testing.T) {
	img := canvas(800, 600, color.White)
	button := image.Rect(300, 200, 420, 240)
	draw.Draw(img, button, &image.Uniform{C: color.Gray{Y: 100}}, image.Point{}, draw.Src)

	box, err := New(DefaultOptions()).Select(img, image.Pt(360, 220))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if box.Method != MethodEdges {
		t.Fatalf("expected edge detection, got %s", box.Method)
	}
	want := image.Rect(296, 196, 424, 244)
	if box.Rect != want {
		t.Fatalf("expected %v, got %v", want, box.Rect)
	}
}

func TestSelectIgnoresTextInsideButton(t *testing.T) {
	img := canvas(800, 600, color.White)
	button := image.Rect(300, 200, 460, 240)
	draw.Draw(img, button, &image.Uniform{C: color.Gray{Y: 90}}, image.Point{}, draw.Src)
	// a few short glyph-like strokes near the click
	for _, x := range []int{372, 376, 385, 391} {
		draw.Draw(img, image.Rect(x, 214, x+2, 226), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}

	box, err := New(DefaultOptions()).Select(img, image.Pt(380, 220))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if box.Method != MethodEdges {
		t.Fatalf("expected edge detection, got %s", box.Method)
	}
	if !image.Rect(300, 200, 460, 240).In(box.Rect) {
		t.Fatalf("expected box %v to contain the whole button", box.Rect)
	}
}

func TestSelectFallsBackOnUniformImage(t *testing.T) {
	img := canvas(800, 600, color.White)
	box, err := New(DefaultOptions()).Select(img, image.Pt(400, 300))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if box.Method != MethodFallback {
		t.Fatalf("expected fallback, got %s", box.Method)
	}
	if box.Rect != image.Rect(360, 280, 440, 320) {
		t.Fatalf("unexpected fallback box %v", box.Rect)
	}
}

func TestFallbackGrowsWithVariance(t *testing.T) {
	// triangle wave: strong variance but no step large enough to be an edge
	img := image.NewGray(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			v := x%170 - 85
			if v < 0 {
				v = -v
			}
			img.SetGray(x, y, color.Gray{Y: uint8(3 * v)})
		}
	}
	box, err := New(DefaultOptions()).Select(img, image.Pt(200, 200))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if box.Method != MethodFallback {
		t.Fatalf("gentle ramps should not produce edges, got %s", box.Method)
	}
	if box.Rect.Dx() != 120 || box.Rect.Dy() != 60 {
		t.Fatalf("expected 120x60 box for noisy region, got %v", box.Rect)
	}
}

func TestSelectKeepsBoxInsideImage(t *testing.T) {
	img := canvas(100, 50, color.White)
	box, err := New(DefaultOptions()).Select(img, image.Pt(2, 2))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !box.Rect.In(img.Bounds()) {
		t.Fatalf("box %v escapes image bounds", box.Rect)
	}
	if box.Rect.Min != (image.Point{}) {
		t.Fatalf("expected box shifted to origin, got %v", box.Rect)
	}
}

func TestSelectRejectsEmptyImage(t *testing.T) {
	if _, err := New(Options{}).Select(image.NewRGBA(image.Rectangle{}), image.Pt(0, 0)); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestCropSharesSubImage(t *testing.T) {
	img := canvas(50, 50, color.Black)
	crop := Crop(img, image.Rect(10, 10, 30, 20))
	if crop.Bounds() != image.Rect(10, 10, 30, 20) {
		t.Fatalf("unexpected crop bounds %v", crop.Bounds())
	}
}
