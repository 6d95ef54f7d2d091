package render

import (
	"fmt"
	"testing"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/geometry"
)

// fakeSurface records placed elements by handle so tests can assert what is visible.
type fakeSurface struct {
	nextHandle int
	rects      map[Handle]placedRect
	paths      map[Handle]placedPath
}

type placedRect struct {
	id    string
	rect  geometry.PixelRect
	style annotations.Style
}

type placedPath struct {
	id     string
	points []geometry.PixelPoint
	style  annotations.Style
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		rects: make(map[Handle]placedRect),
		paths: make(map[Handle]placedPath),
	}
}

func (s *fakeSurface) PlaceRect(id string, rect geometry.PixelRect, style annotations.Style) (Handle, error) {
	s.nextHandle++
	handle := Handle(fmt.Sprintf("el-%d", s.nextHandle))
	s.rects[handle] = placedRect{id: id, rect: rect, style: style}
	return handle, nil
}

func (s *fakeSurface) PlacePath(id string, points []geometry.PixelPoint, style annotations.Style) (Handle, error) {
	s.nextHandle++
	handle := Handle(fmt.Sprintf("el-%d", s.nextHandle))
	copied := make([]geometry.PixelPoint, len(points))
	copy(copied, points)
	s.paths[handle] = placedPath{id: id, points: copied, style: style}
	return handle, nil
}

func (s *fakeSurface) Remove(handle Handle) error {
	delete(s.rects, handle)
	delete(s.paths, handle)
	return nil
}

func (s *fakeSurface) visibleCount() int {
	return len(s.rects) + len(s.paths)
}

func (s *fakeSurface) rectsFor(id string) []placedRect {
	var matched []placedRect
	for _, placed := range s.rects {
		if placed.id == id {
			matched = append(matched, placed)
		}
	}
	return matched
}

func (s *fakeSurface) pathsFor(id string) []placedPath {
	var matched []placedPath
	for _, placed := range s.paths {
		if placed.id == id {
			matched = append(matched, placed)
		}
	}
	return matched
}

// fakeFrames serves a mutable page, scale, and per-page content frame.
type fakeFrames struct {
	page   int
	scale  float64
	frames map[int]geometry.FrameRect
}

func newFakeFrames(page int, scale float64, frame geometry.FrameRect) *fakeFrames {
	return &fakeFrames{
		page:   page,
		scale:  scale,
		frames: map[int]geometry.FrameRect{page: frame},
	}
}

func (f *fakeFrames) CurrentPage() int {
	return f.page
}

func (f *fakeFrames) CurrentScale() float64 {
	return f.scale
}

func (f *fakeFrames) ContentFrame(pageNumber int) (geometry.FrameRect, error) {
	frame, ok := f.frames[pageNumber]
	if !ok || !frame.Valid() {
		return geometry.FrameRect{}, geometry.ErrInvalidFrame
	}
	return frame, nil
}

// fakeOutbox records enqueued wire records in order.
type fakeOutbox struct {
	records []annotations.Record
}

func (o *fakeOutbox) Enqueue(record annotations.Record) {
	o.records = append(o.records, record)
}

func (o *fakeOutbox) last(t *testing.T) annotations.Record {
	t.Helper()
	if len(o.records) == 0 {
		t.Fatalf("expected an enqueued record")
	}
	return o.records[len(o.records)-1]
}

func mustToolStore(t *testing.T, tool annotations.ToolType) *annotations.Store {
	t.Helper()
	store, err := annotations.NewStore(annotations.StoreConfig{ToolType: tool})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}
