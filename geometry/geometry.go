// Package geometry maps pixel-space rectangles between the original image
// frame and the scaled display frame. Both directions are pure arithmetic;
// degenerate dimensions are rejected instead of producing NaN or Inf.
package geometry

import (
	"fmt"

	"anomaly-report-service/models"
)

// Error reports malformed dimensions or boxes passed to a transform. It is
// fatal to the single render call that produced it, nothing more.
type Error struct {
	Op     string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("geometry: %s: %s", e.Op, e.Detail)
}

// DisplayRect is a rectangle in display (canvas) pixels.
type DisplayRect struct {
	X float64
	Y float64
	W float64
	H float64
}

// ToDisplayRect scales a box from original-image pixels to display pixels.
// The two axes scale independently: the display image may carry aspect
// distortion, and the box must reproduce exactly the distortion the image
// itself was drawn with.
func ToDisplayRect(box models.BoundingBoxPixel, srcW, srcH, dstW, dstH int) (DisplayRect, error) {
	if srcW <= 0 || srcH <= 0 {
		return DisplayRect{}, &Error{Op: "ToDisplayRect", Detail: fmt.Sprintf("source dimensions %dx%d", srcW, srcH)}
	}
	if dstW <= 0 || dstH <= 0 {
		return DisplayRect{}, &Error{Op: "ToDisplayRect", Detail: fmt.Sprintf("display dimensions %dx%d", dstW, dstH)}
	}
	if box.XMin >= box.XMax || box.YMin >= box.YMax {
		return DisplayRect{}, &Error{Op: "ToDisplayRect", Detail: fmt.Sprintf("degenerate box %+v", box)}
	}

	scaleX := float64(dstW) / float64(srcW)
	scaleY := float64(dstH) / float64(srcH)
	return DisplayRect{
		X: float64(box.XMin) * scaleX,
		Y: float64(box.YMin) * scaleY,
		W: float64(box.Width()) * scaleX,
		H: float64(box.Height()) * scaleY,
	}, nil
}

// ToOriginalCoords maps a canvas-space point back to original-image pixels.
// It is the exact inverse of the ToDisplayRect scaling and backs the
// mouse-coordinate readout.
func ToOriginalCoords(canvasX, canvasY float64, canvasW, canvasH, srcW, srcH int) (float64, float64, error) {
	if canvasW <= 0 || canvasH <= 0 {
		return 0, 0, &Error{Op: "ToOriginalCoords", Detail: fmt.Sprintf("canvas dimensions %dx%d", canvasW, canvasH)}
	}
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, &Error{Op: "ToOriginalCoords", Detail: fmt.Sprintf("source dimensions %dx%d", srcW, srcH)}
	}

	origX := canvasX * float64(srcW) / float64(canvasW)
	origY := canvasY * float64(srcH) / float64(canvasH)
	return origX, origY, nil
}

// FitWithin computes the display size for an image constrained to
// maxW x maxH with aspect ratio preserved. Images already inside the bounds
// keep their native size. The on-screen path sizes the canvas with this and
// then scales boxes with the same resulting factors.
func FitWithin(srcW, srcH, maxW, maxH int) (int, int, error) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, &Error{Op: "FitWithin", Detail: fmt.Sprintf("source dimensions %dx%d", srcW, srcH)}
	}
	if maxW <= 0 || maxH <= 0 {
		return 0, 0, &Error{Op: "FitWithin", Detail: fmt.Sprintf("bounds %dx%d", maxW, maxH)}
	}
	if srcW <= maxW && srcH <= maxH {
		return srcW, srcH, nil
	}

	scale := float64(maxW) / float64(srcW)
	if s := float64(maxH) / float64(srcH); s < scale {
		scale = s
	}
	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h, nil
}

// ValidateBox checks the data-quality invariant 0 <= xMin < xMax <= imgW,
// 0 <= yMin < yMax <= imgH. Violations are reported, never clamped;
// clamping would hide detection-pipeline bugs.
func ValidateBox(box models.BoundingBoxPixel, imgW, imgH int) error {
	if box.XMin < 0 || box.YMin < 0 || box.XMin >= box.XMax || box.YMin >= box.YMax ||
		box.XMax > imgW || box.YMax > imgH {
		return &Error{
			Op:     "ValidateBox",
			Detail: fmt.Sprintf("box %+v outside image %dx%d", box, imgW, imgH),
		}
	}
	return nil
}
