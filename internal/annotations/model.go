package annotations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pagemarklabs/pagemark/internal/geometry"
)

// ToolType enumerates the annotation tool namespaces.
type ToolType string

const (
	// ToolTypeHighlight marks text-selection highlight rectangles.
	ToolTypeHighlight ToolType = "highlight"
	// ToolTypeInk marks freehand ink strokes.
	ToolTypeInk ToolType = "ink"
	// ToolTypeText marks positioned text markers.
	ToolTypeText ToolType = "text"
	// ToolTypeShape marks positioned shape markers.
	ToolTypeShape ToolType = "shape"
	// ToolTypeNote marks positioned note markers.
	ToolTypeNote ToolType = "note"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidAnnotationID indicates that an annotation identifier is empty or exceeds storage bounds.
	ErrInvalidAnnotationID = errors.New("annotations: invalid annotation id")
	// ErrInvalidToolType indicates an unknown annotation tool namespace.
	ErrInvalidToolType = errors.New("annotations: invalid tool type")
	// ErrInvalidPage indicates a page number below 1.
	ErrInvalidPage = errors.New("annotations: invalid page number")
	// ErrInvalidTimestamp indicates that a unix millisecond value is not positive.
	ErrInvalidTimestamp = errors.New("annotations: invalid unix timestamp")
	// ErrNotFound indicates that no annotation exists for the requested identifier.
	ErrNotFound = errors.New("annotations: annotation not found")
)

// ParseToolType validates raw input and returns a ToolType.
func ParseToolType(rawInput string) (ToolType, error) {
	switch ToolType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ToolTypeHighlight:
		return ToolTypeHighlight, nil
	case ToolTypeInk:
		return ToolTypeInk, nil
	case ToolTypeText:
		return ToolTypeText, nil
	case ToolTypeShape:
		return ToolTypeShape, nil
	case ToolTypeNote:
		return ToolTypeNote, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidToolType, rawInput)
	}
}

// String returns the underlying tool name.
func (t ToolType) String() string {
	return string(t)
}

// AnnotationID represents a validated annotation identifier. Identifiers are opaque
// and unique within their tool namespace; clients assign them at creation time.
type AnnotationID string

// NewAnnotationID validates raw input and returns an AnnotationID.
func NewAnnotationID(rawInput string) (AnnotationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAnnotationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAnnotationID, maxIdentifierLength)
	}
	return AnnotationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AnnotationID) String() string {
	return string(id)
}

// PageNumber represents a validated 1-based page number.
type PageNumber int

// NewPageNumber validates the value and returns a PageNumber.
func NewPageNumber(value int) (PageNumber, error) {
	if value < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPage, value)
	}
	return PageNumber(value), nil
}

// Int exposes the raw page number.
func (p PageNumber) Int() int {
	return int(p)
}

// UnixMillis represents a validated unix timestamp in milliseconds.
type UnixMillis int64

// NewUnixMillis validates the value and returns a UnixMillis.
func NewUnixMillis(value int64) (UnixMillis, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return UnixMillis(value), nil
}

// Int64 exposes the raw unix millisecond value.
func (ts UnixMillis) Int64() int64 {
	return int64(ts)
}

// Style captures tool-specific visual attributes at creation time. Style is a value,
// not a live reference: later global style changes never alter existing annotations.
type Style struct {
	Color     string  `json:"color,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
	Thickness float64 `json:"thickness,omitempty"`
	Fill      string  `json:"fill,omitempty"`
	FontSize  float64 `json:"fontSize,omitempty"`
	Text      string  `json:"text,omitempty"`
	ShapeKind string  `json:"shapeKind,omitempty"`
}

// DefaultStyle returns the capture-time defaults for a tool.
func DefaultStyle(tool ToolType) Style {
	switch tool {
	case ToolTypeHighlight:
		return Style{Color: "#ffff00", Opacity: 0.4}
	case ToolTypeInk:
		return Style{Color: "#000000", Thickness: 2, Opacity: 1}
	case ToolTypeText:
		return Style{Color: "#ff0000", FontSize: 14, Opacity: 1}
	case ToolTypeShape:
		return Style{Color: "#ff0000", Thickness: 2, Opacity: 1, ShapeKind: "rectangle"}
	case ToolTypeNote:
		return Style{Color: "#ff0000", Opacity: 1}
	default:
		return Style{Color: "#ff0000", Opacity: 1}
	}
}

// Geometry holds an annotation's durable, resolution-independent geometry: one or
// more normalized rectangles, plus an ordered polyline for ink strokes.
type Geometry struct {
	Rects  []geometry.NormalizedRect `json:"rects,omitempty"`
	Points []geometry.PercentPoint   `json:"points,omitempty"`
}

// Clamp returns a copy with every rect and point confined to the [0,100] range.
func (g Geometry) Clamp() Geometry {
	clamped := Geometry{}
	if len(g.Rects) > 0 {
		clamped.Rects = make([]geometry.NormalizedRect, len(g.Rects))
		for i, rect := range g.Rects {
			clamped.Rects[i] = rect.Clamp()
		}
	}
	if len(g.Points) > 0 {
		clamped.Points = make([]geometry.PercentPoint, len(g.Points))
		for i, point := range g.Points {
			clamped.Points[i] = point.Clamp()
		}
	}
	return clamped
}

// Empty reports whether the geometry carries no rects and no points.
func (g Geometry) Empty() bool {
	return len(g.Rects) == 0 && len(g.Points) == 0
}

// Annotation is a persisted user mark tied to one page. Deleted annotations are
// tombstones: the record survives with Deleted set so that delete and update share
// one wire operation.
type Annotation struct {
	ID         AnnotationID
	ToolType   ToolType
	PageNumber PageNumber
	AuthorID   string
	CreatedAt  UnixMillis
	UpdatedAt  UnixMillis
	Geometry   Geometry
	Style      Style
	Deleted    bool
}
