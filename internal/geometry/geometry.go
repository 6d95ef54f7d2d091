package geometry

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFrame indicates that a reference frame has a non-positive dimension,
	// usually because layout has not completed yet. Callers should retry after layout.
	ErrInvalidFrame = errors.New("geometry: invalid reference frame")
	// ErrInvalidScale indicates that a render scale factor is not positive.
	ErrInvalidScale = errors.New("geometry: invalid scale factor")
)

// PixelRect is a rectangle in device pixels. Pixel rectangles are a derived,
// disposable projection used only for immediate rendering; they are never persisted.
type PixelRect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// NormalizedRect is a rectangle expressed as percentages of a reference frame.
// This is the durable representation: it is invariant to zoom and resize.
type NormalizedRect struct {
	LeftPercent   float64 `json:"leftPercent"`
	TopPercent    float64 `json:"topPercent"`
	WidthPercent  float64 `json:"widthPercent"`
	HeightPercent float64 `json:"heightPercent"`
}

// FrameRect is the content frame a page's annotations are normalized against,
// typically the bounding box of the page's text layer at capture time.
type FrameRect struct {
	Width  float64
	Height float64
}

// PixelPoint is a single polyline point in device pixels.
type PixelPoint struct {
	X float64
	Y float64
}

// PercentPoint is a single polyline point in percentage coordinates.
type PercentPoint struct {
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
}

// Valid reports whether the frame has positive dimensions.
func (f FrameRect) Valid() bool {
	return f.Width > 0 && f.Height > 0
}

// ToPercent converts a pixel rectangle into percentage form relative to the frame.
func ToPercent(pixel PixelRect, frame FrameRect) (NormalizedRect, error) {
	if !frame.Valid() {
		return NormalizedRect{}, fmt.Errorf("%w: %gx%g", ErrInvalidFrame, frame.Width, frame.Height)
	}
	return NormalizedRect{
		LeftPercent:   pixel.Left / frame.Width * 100,
		TopPercent:    pixel.Top / frame.Height * 100,
		WidthPercent:  pixel.Width / frame.Width * 100,
		HeightPercent: pixel.Height / frame.Height * 100,
	}, nil
}

// ToPixels projects a normalized rectangle onto the frame. This is the inverse of
// ToPercent and runs on every zoom or resize to re-derive visible geometry.
func ToPixels(normalized NormalizedRect, frame FrameRect) (PixelRect, error) {
	if !frame.Valid() {
		return PixelRect{}, fmt.Errorf("%w: %gx%g", ErrInvalidFrame, frame.Width, frame.Height)
	}
	return PixelRect{
		Left:   normalized.LeftPercent / 100 * frame.Width,
		Top:    normalized.TopPercent / 100 * frame.Height,
		Width:  normalized.WidthPercent / 100 * frame.Width,
		Height: normalized.HeightPercent / 100 * frame.Height,
	}, nil
}

// PointToPercent converts a pixel polyline point into percentage form.
func PointToPercent(point PixelPoint, frame FrameRect) (PercentPoint, error) {
	if !frame.Valid() {
		return PercentPoint{}, fmt.Errorf("%w: %gx%g", ErrInvalidFrame, frame.Width, frame.Height)
	}
	return PercentPoint{
		XPercent: point.X / frame.Width * 100,
		YPercent: point.Y / frame.Height * 100,
	}, nil
}

// PointToPixels projects a percentage polyline point onto the frame.
func PointToPixels(point PercentPoint, frame FrameRect) (PixelPoint, error) {
	if !frame.Valid() {
		return PixelPoint{}, fmt.Errorf("%w: %gx%g", ErrInvalidFrame, frame.Width, frame.Height)
	}
	return PixelPoint{
		X: point.XPercent / 100 * frame.Width,
		Y: point.YPercent / 100 * frame.Height,
	}, nil
}

// ScaleStrokeWidth rescales a stroke width captured at originalScale for rendering at
// currentScale. Normalized positions are scale-invariant by construction; stroke
// thickness is the only visual attribute that needs re-derivation on zoom.
func ScaleStrokeWidth(baseWidth, originalScale, currentScale float64) (float64, error) {
	if originalScale <= 0 {
		return 0, fmt.Errorf("%w: original %g", ErrInvalidScale, originalScale)
	}
	if currentScale <= 0 {
		return 0, fmt.Errorf("%w: current %g", ErrInvalidScale, currentScale)
	}
	return baseWidth * currentScale / originalScale, nil
}

// Clamp confines the rectangle to the [0,100] percent range. Values may exceed the
// range transiently during drags and must be clamped before persistence.
func (r NormalizedRect) Clamp() NormalizedRect {
	clamped := NormalizedRect{
		LeftPercent:   clampPercent(r.LeftPercent),
		TopPercent:    clampPercent(r.TopPercent),
		WidthPercent:  clampPercent(r.WidthPercent),
		HeightPercent: clampPercent(r.HeightPercent),
	}
	if clamped.LeftPercent+clamped.WidthPercent > 100 {
		clamped.WidthPercent = 100 - clamped.LeftPercent
	}
	if clamped.TopPercent+clamped.HeightPercent > 100 {
		clamped.HeightPercent = 100 - clamped.TopPercent
	}
	return clamped
}

// Clamp confines the point to the [0,100] percent range.
func (p PercentPoint) Clamp() PercentPoint {
	return PercentPoint{
		XPercent: clampPercent(p.XPercent),
		YPercent: clampPercent(p.YPercent),
	}
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
