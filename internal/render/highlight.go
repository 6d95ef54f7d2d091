package render

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/geometry"
)

var (
	errMissingStore   = errors.New("render: annotation store is required")
	errMissingOutbox  = errors.New("render: persistence outbox is required")
	errMissingFrames  = errors.New("render: frame provider is required")
	errMissingSurface = errors.New("render: drawing surface is required")

	noOpLogger = zap.NewNop()
)

// HighlightConfig configures a HighlightAdapter.
type HighlightConfig struct {
	Store   *annotations.Store
	Outbox  Outbox
	Frames  FrameProvider
	Surface Surface
	Style   annotations.Style
	Logger  *zap.Logger
}

// HighlightAdapter captures text-selection rectangles, normalizes them against the
// page's content frame, records them in the store, enqueues them for persistence,
// and paints them optimistically. It implements tools.Tool.
type HighlightAdapter struct {
	mu      sync.Mutex
	store   *annotations.Store
	outbox  Outbox
	frames  FrameProvider
	surface Surface
	style   annotations.Style
	logger  *zap.Logger

	tracker elementTracker
	active  bool

	selectionPage  int
	selectionRects []geometry.PixelRect
	selecting      bool
}

// NewHighlightAdapter validates the configuration and returns a HighlightAdapter.
func NewHighlightAdapter(cfg HighlightConfig) (*HighlightAdapter, error) {
	if err := validateAdapterDeps(cfg.Store, cfg.Outbox, cfg.Frames, cfg.Surface); err != nil {
		return nil, err
	}
	style := cfg.Style
	if style == (annotations.Style{}) {
		style = annotations.DefaultStyle(annotations.ToolTypeHighlight)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HighlightAdapter{
		store:   cfg.Store,
		outbox:  cfg.Outbox,
		frames:  cfg.Frames,
		surface: cfg.Surface,
		style:   style,
		logger:  logger,
		tracker: newElementTracker(),
	}, nil
}

func validateAdapterDeps(store *annotations.Store, outbox Outbox, frames FrameProvider, surface Surface) error {
	if store == nil {
		return errMissingStore
	}
	if outbox == nil {
		return errMissingOutbox
	}
	if frames == nil {
		return errMissingFrames
	}
	if surface == nil {
		return errMissingSurface
	}
	return nil
}

// Name returns the tool registration name.
func (a *HighlightAdapter) Name() string {
	return annotations.ToolTypeHighlight.String()
}

// Activate marks the adapter as the active gesture target and paints the current page.
func (a *HighlightAdapter) Activate(context.Context) error {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	return a.RenderPage(a.frames.CurrentPage())
}

// Deactivate aborts any in-flight selection and stops accepting gestures. Painted
// elements stay visible: deactivation switches tools, it does not hide annotations.
func (a *HighlightAdapter) Deactivate(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.discardSelectionLocked()
	return nil
}

// BeginSelection starts a selection gesture on the page.
func (a *HighlightAdapter) BeginSelection(pageNumber int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	a.selecting = true
	a.selectionPage = pageNumber
	a.selectionRects = a.selectionRects[:0]
}

// ExtendSelection adds one raw rectangle to the in-flight selection.
func (a *HighlightAdapter) ExtendSelection(rect geometry.PixelRect) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.selecting {
		return
	}
	a.selectionRects = append(a.selectionRects, rect)
}

// CompleteSelection normalizes the captured rectangles, records the annotation,
// enqueues it for persistence, and paints it. When the content frame has not laid
// out yet the gesture is kept and the caller retries after layout.
func (a *HighlightAdapter) CompleteSelection() (annotations.Annotation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.selecting {
		return annotations.Annotation{}, ErrNoGesture
	}
	if len(a.selectionRects) == 0 {
		a.discardSelectionLocked()
		return annotations.Annotation{}, ErrEmptyGesture
	}

	frame, err := a.frames.ContentFrame(a.selectionPage)
	if err != nil {
		return annotations.Annotation{}, err
	}
	rects := make([]geometry.NormalizedRect, 0, len(a.selectionRects))
	for _, pixel := range a.selectionRects {
		normalized, err := geometry.ToPercent(pixel, frame)
		if err != nil {
			return annotations.Annotation{}, err
		}
		rects = append(rects, normalized)
	}

	created, err := a.store.Create(a.selectionPage, "", annotations.Geometry{Rects: rects}, a.style)
	if err != nil {
		return annotations.Annotation{}, err
	}
	a.discardSelectionLocked()
	a.outbox.Enqueue(created.WireRecord())
	a.paintLocked(created, frame)
	return created, nil
}

// RenderPage paints the page's stored annotations. Rendering is idempotent: an id
// already on the surface is never placed twice.
func (a *HighlightAdapter) RenderPage(pageNumber int) error {
	frame, err := a.frames.ContentFrame(pageNumber)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, annotation := range a.store.ListByPage(pageNumber) {
		if !a.tracker.shouldRender(annotation.ID) {
			continue
		}
		a.paintLocked(annotation, frame)
	}
	return nil
}

// RemoveAnnotation tombstones the annotation, enqueues the tombstone through the
// same persistence path as updates, removes the visible element, and ignores any
// later render call for the id.
func (a *HighlightAdapter) RemoveAnnotation(id annotations.AnnotationID) error {
	deleted, err := a.store.SoftDelete(id)
	if err != nil {
		return err
	}
	a.outbox.Enqueue(deleted.WireRecord())

	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracker.drop(a.surface, id)
	a.tracker.removed[id] = true
	return nil
}

// HandlePageChange aborts any in-flight selection, clears the previous page's
// elements, and repaints from stored percentage geometry. No server round-trip.
func (a *HighlightAdapter) HandlePageChange(pageNumber int) {
	a.mu.Lock()
	a.discardSelectionLocked()
	a.tracker.clear(a.surface)
	a.mu.Unlock()

	if err := a.RenderPage(pageNumber); err != nil {
		a.logger.Warn("highlight repaint deferred", zap.Int("page", pageNumber), zap.Error(err))
	}
}

// HandleScaleChange aborts any in-flight selection and re-projects the visible
// elements against the resized content frame.
func (a *HighlightAdapter) HandleScaleChange(scale float64) {
	a.mu.Lock()
	a.discardSelectionLocked()
	a.tracker.clear(a.surface)
	a.mu.Unlock()

	page := a.frames.CurrentPage()
	if err := a.RenderPage(page); err != nil {
		a.logger.Warn("highlight reprojection deferred",
			zap.Int("page", page), zap.Float64("scale", scale), zap.Error(err))
	}
}

// ExportAnnotations returns the stored records keyed by page.
func (a *HighlightAdapter) ExportAnnotations() annotations.PageRecords {
	return a.store.ExportAll()
}

// LoadAnnotations bulk-loads backend records and repaints the current page.
func (a *HighlightAdapter) LoadAnnotations(data annotations.PageRecords) annotations.ImportReport {
	report := a.store.ImportAll(data)

	a.mu.Lock()
	a.tracker = newElementTracker()
	a.mu.Unlock()

	page := a.frames.CurrentPage()
	if err := a.RenderPage(page); err != nil {
		a.logger.Warn("highlight paint after load deferred", zap.Int("page", page), zap.Error(err))
	}
	return report
}

// Cleanup removes every visible element and drops gesture state.
func (a *HighlightAdapter) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discardSelectionLocked()
	a.tracker.clear(a.surface)
	a.tracker = newElementTracker()
}

func (a *HighlightAdapter) discardSelectionLocked() {
	a.selecting = false
	a.selectionPage = 0
	a.selectionRects = nil
}

func (a *HighlightAdapter) paintLocked(annotation annotations.Annotation, frame geometry.FrameRect) {
	for _, normalized := range annotation.Geometry.Rects {
		pixel, err := geometry.ToPixels(normalized, frame)
		if err != nil {
			a.logger.Warn("highlight projection failed",
				zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
			return
		}
		handle, err := a.surface.PlaceRect(annotation.ID.String(), pixel, annotation.Style)
		if err != nil {
			a.logger.Warn("highlight placement failed",
				zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
			return
		}
		a.tracker.track(annotation.ID, handle)
	}
}
