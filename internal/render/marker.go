package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/geometry"
)

var errMarkerToolType = errors.New("render: marker adapter serves text, shape and note tools")

const defaultMarkerExtentPixels = 16.0

// MarkerConfig configures a MarkerAdapter.
type MarkerConfig struct {
	ToolType annotations.ToolType
	Store    *annotations.Store
	Outbox   Outbox
	Frames   FrameProvider
	Surface  Surface
	Style    annotations.Style
	Logger   *zap.Logger
}

// MarkerAdapter places point-anchored markers: text labels, shapes, and notes share
// anchor-rect geometry and differ only in their style payload, so one adapter type
// parameterized by tool serves all three. It implements tools.Tool.
type MarkerAdapter struct {
	mu       sync.Mutex
	toolType annotations.ToolType
	store    *annotations.Store
	outbox   Outbox
	frames   FrameProvider
	surface  Surface
	style    annotations.Style
	logger   *zap.Logger

	tracker elementTracker
	active  bool
}

// NewMarkerAdapter validates the configuration and returns a MarkerAdapter.
func NewMarkerAdapter(cfg MarkerConfig) (*MarkerAdapter, error) {
	switch cfg.ToolType {
	case annotations.ToolTypeText, annotations.ToolTypeShape, annotations.ToolTypeNote:
	default:
		return nil, fmt.Errorf("%w: got %q", errMarkerToolType, cfg.ToolType)
	}
	if err := validateAdapterDeps(cfg.Store, cfg.Outbox, cfg.Frames, cfg.Surface); err != nil {
		return nil, err
	}
	if cfg.Store.ToolType() != cfg.ToolType {
		return nil, fmt.Errorf("%w: store serves %q", errMarkerToolType, cfg.Store.ToolType())
	}
	style := cfg.Style
	if style == (annotations.Style{}) {
		style = annotations.DefaultStyle(cfg.ToolType)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &MarkerAdapter{
		toolType: cfg.ToolType,
		store:    cfg.Store,
		outbox:   cfg.Outbox,
		frames:   cfg.Frames,
		surface:  cfg.Surface,
		style:    style,
		logger:   logger,
		tracker:  newElementTracker(),
	}, nil
}

// Name returns the tool registration name.
func (a *MarkerAdapter) Name() string {
	return a.toolType.String()
}

// Activate marks the adapter active and paints the current page.
func (a *MarkerAdapter) Activate(context.Context) error {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	return a.RenderPage(a.frames.CurrentPage())
}

// Deactivate stops accepting placements. Markers have no multi-step gesture to abort.
func (a *MarkerAdapter) Deactivate(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	return nil
}

// PlaceMarker anchors a marker at the position. The anchor extent derives from the
// style's font size at capture time. A zero style places with the adapter default.
func (a *MarkerAdapter) PlaceMarker(pageNumber int, position geometry.PixelPoint, style annotations.Style) (annotations.Annotation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return annotations.Annotation{}, ErrNoGesture
	}
	if style == (annotations.Style{}) {
		style = a.style
	}

	frame, err := a.frames.ContentFrame(pageNumber)
	if err != nil {
		return annotations.Annotation{}, err
	}
	extent := style.FontSize
	if extent <= 0 {
		extent = defaultMarkerExtentPixels
	}
	anchor, err := geometry.ToPercent(geometry.PixelRect{
		Left:   position.X,
		Top:    position.Y,
		Width:  extent,
		Height: extent,
	}, frame)
	if err != nil {
		return annotations.Annotation{}, err
	}

	created, err := a.store.Create(pageNumber, "", annotations.Geometry{
		Rects: []geometry.NormalizedRect{anchor},
	}, style)
	if err != nil {
		return annotations.Annotation{}, err
	}
	a.outbox.Enqueue(created.WireRecord())
	a.paintLocked(created, frame)
	return created, nil
}

// UpdateMarker merges a style change (edited text, recolored shape) and re-syncs.
func (a *MarkerAdapter) UpdateMarker(id annotations.AnnotationID, style annotations.Style) (annotations.Annotation, error) {
	updated, err := a.store.Update(id, annotations.Change{Style: &style})
	if err != nil {
		return annotations.Annotation{}, err
	}
	a.outbox.Enqueue(updated.WireRecord())

	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracker.drop(a.surface, id)
	frame, frameErr := a.frames.ContentFrame(updated.PageNumber.Int())
	if frameErr == nil {
		a.paintLocked(updated, frame)
	}
	return updated, nil
}

// RenderPage paints the page's stored markers, idempotently by id.
func (a *MarkerAdapter) RenderPage(pageNumber int) error {
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

// RemoveAnnotation tombstones the marker and removes its visible element.
func (a *MarkerAdapter) RemoveAnnotation(id annotations.AnnotationID) error {
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

// HandlePageChange clears the previous page's elements and repaints.
func (a *MarkerAdapter) HandlePageChange(pageNumber int) {
	a.mu.Lock()
	a.tracker.clear(a.surface)
	a.mu.Unlock()

	if err := a.RenderPage(pageNumber); err != nil {
		a.logger.Warn("marker repaint deferred",
			zap.String("tool", a.toolType.String()), zap.Int("page", pageNumber), zap.Error(err))
	}
}

// HandleScaleChange re-projects the visible markers against the resized frame.
func (a *MarkerAdapter) HandleScaleChange(scale float64) {
	a.mu.Lock()
	a.tracker.clear(a.surface)
	a.mu.Unlock()

	page := a.frames.CurrentPage()
	if err := a.RenderPage(page); err != nil {
		a.logger.Warn("marker reprojection deferred",
			zap.String("tool", a.toolType.String()), zap.Int("page", page),
			zap.Float64("scale", scale), zap.Error(err))
	}
}

// ExportAnnotations returns the stored records keyed by page.
func (a *MarkerAdapter) ExportAnnotations() annotations.PageRecords {
	return a.store.ExportAll()
}

// LoadAnnotations bulk-loads backend records and repaints the current page.
func (a *MarkerAdapter) LoadAnnotations(data annotations.PageRecords) annotations.ImportReport {
	report := a.store.ImportAll(data)

	a.mu.Lock()
	a.tracker = newElementTracker()
	a.mu.Unlock()

	page := a.frames.CurrentPage()
	if err := a.RenderPage(page); err != nil {
		a.logger.Warn("marker paint after load deferred",
			zap.String("tool", a.toolType.String()), zap.Int("page", page), zap.Error(err))
	}
	return report
}

// Cleanup removes every visible element.
func (a *MarkerAdapter) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracker.clear(a.surface)
	a.tracker = newElementTracker()
}

func (a *MarkerAdapter) paintLocked(annotation annotations.Annotation, frame geometry.FrameRect) {
	for _, normalized := range annotation.Geometry.Rects {
		pixel, err := geometry.ToPixels(normalized, frame)
		if err != nil {
			a.logger.Warn("marker projection failed",
				zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
			return
		}
		handle, err := a.surface.PlaceRect(annotation.ID.String(), pixel, annotation.Style)
		if err != nil {
			a.logger.Warn("marker placement failed",
				zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
			return
		}
		a.tracker.track(annotation.ID, handle)
	}
}
