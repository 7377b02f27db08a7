// Package overlay rasterizes annotated anomaly images: the source raster
// scaled to canvas size plus stroked bounding boxes and numbered labels.
// One renderer serves both the interactive view and batch report export,
// which is what keeps the exported artifact identical to the screen.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"anomaly-report-service/geometry"
	"anomaly-report-service/models"
)

const (
	labelPadX = 4.0
	labelPadY = 3.0
)

// StrokeWidth is the adaptive box line width: thick enough to stay visible
// on huge rasters, never thinner than 3px on tiny ones.
func StrokeWidth(canvasW, canvasH int) float64 {
	m := canvasW
	if canvasH < m {
		m = canvasH
	}
	w := float64(m) / 200
	if w < 3 {
		w = 3
	}
	return w
}

// Render draws the image at canvas resolution and overlays the given
// display-space boxes. Labels are numbered "Anomaly N" in box order,
// 1-indexed: several boxes can belong to a single anomaly, so numbering by
// anomaly id would collide. A label that would land above the canvas top is
// clamped to y=0, never dropped.
//
// The input image and boxes are not mutated; the returned RGBA is freshly
// allocated pixel data.
func Render(img image.Image, boxes []geometry.DisplayRect, labels []string, canvasW, canvasH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)

	dc := gg.NewContextForRGBA(dst)
	dc.SetFontFace(basicfont.Face7x13)
	stroke := StrokeWidth(canvasW, canvasH)

	for i, box := range boxes {
		dc.SetLineWidth(stroke)
		dc.SetRGBA255(255, 40, 40, 255)
		dc.DrawRectangle(box.X, box.Y, box.W, box.H)
		dc.Stroke()

		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		if label == "" {
			continue
		}

		textW, textH := dc.MeasureString(label)
		bgW := textW + 2*labelPadX
		bgH := textH + 2*labelPadY
		bgY := box.Y - bgH
		if bgY < 0 {
			bgY = 0
		}

		// Filled background keeps the label readable on any raster.
		dc.SetRGBA255(255, 40, 40, 230)
		dc.DrawRectangle(box.X, bgY, bgW, bgH)
		dc.Fill()
		dc.SetRGBA255(255, 255, 255, 255)
		dc.DrawString(label, box.X+labelPadX, bgY+bgH-labelPadY)
	}

	return dst
}

// RenderAnomaly scales the anomaly's original-resolution boxes onto a
// canvas of the given size and renders them with "Anomaly N" labels. Box
// coordinates that violate the data-quality invariant fail the call with a
// geometry error; the caller decides whether to fall back to a plain image.
func RenderAnomaly(img image.Image, boxes []models.BoundingBoxPixel, canvasW, canvasH int) (*image.RGBA, error) {
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()

	rects := make([]geometry.DisplayRect, 0, len(boxes))
	labels := make([]string, 0, len(boxes))
	for i, box := range boxes {
		if err := geometry.ValidateBox(box, srcW, srcH); err != nil {
			return nil, err
		}
		rect, err := geometry.ToDisplayRect(box, srcW, srcH, canvasW, canvasH)
		if err != nil {
			return nil, err
		}
		rects = append(rects, rect)
		labels = append(labels, fmt.Sprintf("Anomaly %d", i+1))
	}

	return Render(img, rects, labels, canvasW, canvasH), nil
}

// RenderPlain scales the image to canvas size without annotations. It is
// the best-effort fallback when annotation fails but the raster itself is
// fine.
func RenderPlain(img image.Image, canvasW, canvasH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// RenderError produces the placeholder canvas used when an image cannot be
// loaded at all. The message is baked into the pixels so a batch export
// degrades visibly instead of stalling on one bad file.
func RenderError(message string, canvasW, canvasH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))

	dc := gg.NewContextForRGBA(dst)
	dc.SetRGBA255(40, 40, 48, 255)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetLineWidth(2)
	dc.SetRGBA255(200, 60, 60, 255)
	dc.DrawRectangle(4, 4, float64(canvasW)-8, float64(canvasH)-8)
	dc.Stroke()

	dc.SetRGBA255(230, 230, 230, 255)
	dc.DrawStringWrapped("image unavailable\n"+message, float64(canvasW)/2, float64(canvasH)/2,
		0.5, 0.5, float64(canvasW)-24, 1.4, gg.AlignCenter)

	return dst
}

// EncodePNG serializes a rendered canvas.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}
