package render

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/geometry"
)

func newHighlightFixture(t *testing.T) (*HighlightAdapter, *annotations.Store, *fakeSurface, *fakeFrames, *fakeOutbox) {
	t.Helper()
	store := mustToolStore(t, annotations.ToolTypeHighlight)
	surface := newFakeSurface()
	frames := newFakeFrames(3, 1.0, geometry.FrameRect{Width: 1000, Height: 1400})
	outbox := &fakeOutbox{}
	adapter, err := NewHighlightAdapter(HighlightConfig{
		Store:   store,
		Outbox:  outbox,
		Frames:  frames,
		Surface: surface,
	})
	if err != nil {
		t.Fatalf("unexpected adapter error: %v", err)
	}
	if err := adapter.Activate(context.Background()); err != nil {
		t.Fatalf("unexpected activation error: %v", err)
	}
	return adapter, store, surface, frames, outbox
}

func TestCompleteSelectionNormalizesAndPaintsOptimistically(t *testing.T) {
	adapter, store, surface, _, outbox := newHighlightFixture(t)

	adapter.BeginSelection(3)
	adapter.ExtendSelection(geometry.PixelRect{Left: 10, Top: 20, Width: 30, Height: 5})
	created, err := adapter.CompleteSelection()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := created.Geometry.Rects[0]
	if math.Abs(stored.LeftPercent-1.0) > 1e-9 || math.Abs(stored.WidthPercent-3.0) > 1e-9 {
		t.Fatalf("unexpected normalized geometry: %+v", stored)
	}
	if math.Abs(stored.TopPercent-1.4285714285714286) > 1e-9 {
		t.Fatalf("unexpected top percent: %g", stored.TopPercent)
	}

	if len(store.ListByPage(3)) != 1 {
		t.Fatalf("expected annotation recorded in store")
	}
	if placed := surface.rectsFor(created.ID.String()); len(placed) != 1 {
		t.Fatalf("expected optimistic paint, got %d elements", len(placed))
	}
	sent := outbox.last(t)
	if sent.ID != created.ID.String() || sent.Deleted {
		t.Fatalf("unexpected enqueued record: %+v", sent)
	}
}

func TestCompleteSelectionDefersUntilFrameLaysOut(t *testing.T) {
	adapter, _, _, frames, _ := newHighlightFixture(t)
	frames.frames[3] = geometry.FrameRect{}

	adapter.BeginSelection(3)
	adapter.ExtendSelection(geometry.PixelRect{Left: 1, Top: 1, Width: 2, Height: 2})
	if _, err := adapter.CompleteSelection(); !errors.Is(err, geometry.ErrInvalidFrame) {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}

	// The gesture is kept; the caller retries after layout.
	frames.frames[3] = geometry.FrameRect{Width: 1000, Height: 1400}
	if _, err := adapter.CompleteSelection(); err != nil {
		t.Fatalf("expected retry after layout to succeed, got %v", err)
	}
}

func TestRenderPageIsIdempotentByID(t *testing.T) {
	adapter, _, surface, _, _ := newHighlightFixture(t)

	adapter.BeginSelection(3)
	adapter.ExtendSelection(geometry.PixelRect{Left: 10, Top: 20, Width: 30, Height: 5})
	if _, err := adapter.CompleteSelection(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := surface.visibleCount()
	for i := 0; i < 3; i++ {
		if err := adapter.RenderPage(3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if surface.visibleCount() != before {
		t.Fatalf("re-render duplicated elements: %d -> %d", before, surface.visibleCount())
	}
}

func TestScaleChangeReprojectsWithoutMutatingStoredGeometry(t *testing.T) {
	adapter, store, surface, frames, _ := newHighlightFixture(t)

	adapter.BeginSelection(3)
	adapter.ExtendSelection(geometry.PixelRect{Left: 10, Top: 20, Width: 30, Height: 5})
	created, err := adapter.CompleteSelection()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	storedBefore, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames.frames[3] = geometry.FrameRect{Width: 2000, Height: 2800}
	frames.scale = 2.0
	adapter.HandleScaleChange(2.0)

	storedAfter, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if storedBefore.Geometry.Rects[0] != storedAfter.Geometry.Rects[0] {
		t.Fatalf("stored percentage geometry must not change on zoom")
	}

	placed := surface.rectsFor(created.ID.String())
	if len(placed) != 1 {
		t.Fatalf("expected a single re-projected element, got %d", len(placed))
	}
	got := placed[0].rect
	if math.Abs(got.Left-20) > 1e-9 || math.Abs(got.Top-40) > 1e-9 ||
		math.Abs(got.Width-60) > 1e-9 || math.Abs(got.Height-10) > 1e-9 {
		t.Fatalf("unexpected re-projected rect: %+v", got)
	}
}

func TestPageChangeAbortsInFlightSelection(t *testing.T) {
	adapter, store, _, frames, _ := newHighlightFixture(t)
	frames.frames[4] = geometry.FrameRect{Width: 1000, Height: 1400}

	adapter.BeginSelection(3)
	adapter.ExtendSelection(geometry.PixelRect{Left: 1, Top: 1, Width: 2, Height: 2})
	frames.page = 4
	adapter.HandlePageChange(4)

	if _, err := adapter.CompleteSelection(); !errors.Is(err, ErrNoGesture) {
		t.Fatalf("expected aborted gesture, got %v", err)
	}
	if len(store.ListByPage(3)) != 0 {
		t.Fatalf("aborted gesture must not commit partial geometry")
	}
}

func TestRemoveAnnotationIgnoresLaterRenders(t *testing.T) {
	adapter, _, surface, _, outbox := newHighlightFixture(t)

	adapter.BeginSelection(3)
	adapter.ExtendSelection(geometry.PixelRect{Left: 10, Top: 20, Width: 30, Height: 5})
	created, err := adapter.CompleteSelection()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := adapter.RemoveAnnotation(created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(surface.rectsFor(created.ID.String())) != 0 {
		t.Fatalf("expected visible element removed")
	}
	tombstone := outbox.last(t)
	if !tombstone.Deleted || tombstone.ID != created.ID.String() {
		t.Fatalf("expected tombstone enqueued, got %+v", tombstone)
	}

	if err := adapter.RenderPage(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(surface.rectsFor(created.ID.String())) != 0 {
		t.Fatalf("render after delete must not resurrect the element")
	}

	if err := adapter.RemoveAnnotation(annotations.AnnotationID("missing")); !errors.Is(err, annotations.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestLoadAnnotationsRepaintsCurrentPage(t *testing.T) {
	adapter, _, surface, _, _ := newHighlightFixture(t)

	report := adapter.LoadAnnotations(annotations.PageRecords{
		3: {{
			ID:              "loaded-1",
			ToolType:        "highlight",
			PageNumber:      3,
			Geometry:        annotations.Geometry{Rects: []geometry.NormalizedRect{{LeftPercent: 10, TopPercent: 10, WidthPercent: 5, HeightPercent: 2}}},
			TimestampMillis: 1700000000000,
		}},
		9: {{ID: "", ToolType: "highlight", PageNumber: 9, TimestampMillis: 1}},
	})
	if report.Imported != 1 || report.Skipped != 1 {
		t.Fatalf("unexpected import report: %+v", report)
	}
	if len(surface.rectsFor("loaded-1")) != 1 {
		t.Fatalf("expected loaded annotation painted on current page")
	}
}
