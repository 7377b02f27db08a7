package overlay

import (
	"image"
	"image/color"
	"testing"

	"anomaly-report-service/geometry"
	"anomaly-report-service/models"
)

// solidImage builds a uniform test raster.
func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestStrokeWidth(t *testing.T) {
	tests := []struct {
		w, h int
		want float64
	}{
		{100, 100, 3},     // tiny input, floor applies
		{800, 640, 3.2},   // 640/200
		{4000, 3000, 15},  // 3000/200
		{10000, 400, 3},   // min dimension rules
	}
	for _, tt := range tests {
		if got := StrokeWidth(tt.w, tt.h); got != tt.want {
			t.Errorf("StrokeWidth(%d, %d) = %f, want %f", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestRenderDrawsBoxes(t *testing.T) {
	gray := color.RGBA{128, 128, 128, 255}
	img := solidImage(200, 160, gray)

	rects := []geometry.DisplayRect{{X: 40, Y: 40, W: 80, H: 60}}
	out := Render(img, rects, []string{"Anomaly 1"}, 200, 160)

	if got := out.Bounds(); got.Dx() != 200 || got.Dy() != 160 {
		t.Fatalf("unexpected canvas size %v", got)
	}

	// The stroked edge must differ from the background at the box border.
	edge := out.RGBAAt(40, 70)
	if edge == gray {
		t.Error("expected a stroked box edge at (40,70), found untouched background")
	}
	// Well inside the box the background must survive untouched.
	center := out.RGBAAt(80, 70)
	if center != gray {
		t.Errorf("box interior should not be filled, got %v", center)
	}
}

func TestRenderClampsLabelAtTopEdge(t *testing.T) {
	img := solidImage(204, 204, color.RGBA{90, 90, 90, 255})

	// Box flush with the canvas top: the label has no room above and must
	// be clamped to y=0 instead of panicking or vanishing.
	rects := []geometry.DisplayRect{{X: 10, Y: 0, W: 50, H: 50}}
	out := Render(img, rects, []string{"Anomaly 1"}, 204, 204)

	labelBg := out.RGBAAt(14, 2)
	if labelBg == (color.RGBA{90, 90, 90, 255}) {
		t.Error("expected label background pixels at the clamped position")
	}
}

func TestRenderAnomalyScalesBoxes(t *testing.T) {
	img := solidImage(400, 320, color.RGBA{100, 100, 100, 255})
	boxes := []models.BoundingBoxPixel{{XMin: 100, YMin: 80, XMax: 300, YMax: 240}}

	out, err := RenderAnomaly(img, boxes, 200, 160)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Box edge lands at half the original coordinates.
	if got := out.RGBAAt(50, 80); got == (color.RGBA{100, 100, 100, 255}) {
		t.Error("expected scaled box edge at (50,80)")
	}
}

func TestRenderAnomalyRejectsOutOfBoundsBox(t *testing.T) {
	img := solidImage(100, 100, color.RGBA{100, 100, 100, 255})
	boxes := []models.BoundingBoxPixel{{XMin: 50, YMin: 50, XMax: 150, YMax: 150}}

	if _, err := RenderAnomaly(img, boxes, 100, 100); err == nil {
		t.Error("boxes outside the image are a data-quality error, not something to clamp")
	}
}

func TestRenderAnomalyNoBoxes(t *testing.T) {
	img := solidImage(100, 80, color.RGBA{10, 20, 30, 255})
	out, err := RenderAnomaly(img, nil, 50, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 40 {
		t.Errorf("unexpected canvas size %v", out.Bounds())
	}
}

func TestRenderErrorPlaceholder(t *testing.T) {
	out := RenderError("fetch failed: 404", 320, 240)
	if out.Bounds().Dx() != 320 || out.Bounds().Dy() != 240 {
		t.Fatalf("unexpected placeholder size %v", out.Bounds())
	}
	// Placeholder background, not transparent pixels.
	if got := out.RGBAAt(160, 10); got.A != 255 {
		t.Error("placeholder should be fully opaque")
	}

	data, err := EncodePNG(out)
	if err != nil {
		t.Fatalf("placeholder must encode cleanly: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty PNG data")
	}
}
