package render

import (
	"errors"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/geometry"
)

var (
	// ErrNoGesture indicates a gesture-completion call without a begun gesture.
	ErrNoGesture = errors.New("render: no gesture in progress")
	// ErrEmptyGesture indicates a completed gesture that captured no geometry.
	ErrEmptyGesture = errors.New("render: gesture captured no geometry")
)

// Handle identifies one visible element placed on the drawing surface.
type Handle string

// Surface is the drawing collaborator: it places positioned primitives and removes
// them by handle. Render adapters are its sole callers.
type Surface interface {
	PlaceRect(id string, rect geometry.PixelRect, style annotations.Style) (Handle, error)
	PlacePath(id string, points []geometry.PixelPoint, style annotations.Style) (Handle, error)
	Remove(handle Handle) error
}

// FrameProvider is the renderer collaborator: current page, current render scale,
// and the content-frame bounding box used as the percentage reference per page.
type FrameProvider interface {
	CurrentPage() int
	CurrentScale() float64
	ContentFrame(pageNumber int) (geometry.FrameRect, error)
}

// Outbox receives wire records for asynchronous persistence.
type Outbox interface {
	Enqueue(record annotations.Record)
}

// elementTracker keeps the id-to-handles mapping that makes re-rendering
// idempotent, plus the set of ids whose delete notification has been seen.
// A highlight may own several rectangles and therefore several handles.
type elementTracker struct {
	rendered map[annotations.AnnotationID][]Handle
	removed  map[annotations.AnnotationID]bool
}

func newElementTracker() elementTracker {
	return elementTracker{
		rendered: make(map[annotations.AnnotationID][]Handle),
		removed:  make(map[annotations.AnnotationID]bool),
	}
}

func (t *elementTracker) shouldRender(id annotations.AnnotationID) bool {
	if t.removed[id] {
		return false
	}
	_, already := t.rendered[id]
	return !already
}

func (t *elementTracker) track(id annotations.AnnotationID, handle Handle) {
	t.rendered[id] = append(t.rendered[id], handle)
}

func (t *elementTracker) clear(surface Surface) {
	for id, handles := range t.rendered {
		for _, handle := range handles {
			_ = surface.Remove(handle)
		}
		delete(t.rendered, id)
	}
}

func (t *elementTracker) drop(surface Surface, id annotations.AnnotationID) {
	for _, handle := range t.rendered[id] {
		_ = surface.Remove(handle)
	}
	delete(t.rendered, id)
}
