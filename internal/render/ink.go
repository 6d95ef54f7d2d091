package render

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pagemarklabs/pagemark/internal/annotations"
	"github.com/pagemarklabs/pagemark/internal/geometry"
)

// InkConfig configures an InkAdapter.
type InkConfig struct {
	Store   *annotations.Store
	Outbox  Outbox
	Frames  FrameProvider
	Surface Surface
	Style   annotations.Style
	Logger  *zap.Logger
}

// InkAdapter captures freehand strokes as ordered polylines, normalizes them, and
// follows the same store/enqueue/paint pipeline as highlights. Stroke thickness is
// stored normalized to scale 1.0 so the rendered width is re-derived on every zoom
// while the persisted record never changes. It implements tools.Tool.
type InkAdapter struct {
	mu      sync.Mutex
	store   *annotations.Store
	outbox  Outbox
	frames  FrameProvider
	surface Surface
	style   annotations.Style
	logger  *zap.Logger

	tracker elementTracker
	active  bool

	strokePage   int
	strokeFrame  geometry.FrameRect
	strokePoints []geometry.PercentPoint
	stroking     bool
}

// NewInkAdapter validates the configuration and returns an InkAdapter.
func NewInkAdapter(cfg InkConfig) (*InkAdapter, error) {
	if err := validateAdapterDeps(cfg.Store, cfg.Outbox, cfg.Frames, cfg.Surface); err != nil {
		return nil, err
	}
	style := cfg.Style
	if style == (annotations.Style{}) {
		style = annotations.DefaultStyle(annotations.ToolTypeInk)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &InkAdapter{
		store:   cfg.Store,
		outbox:  cfg.Outbox,
		frames:  cfg.Frames,
		surface: cfg.Surface,
		style:   style,
		logger:  logger,
		tracker: newElementTracker(),
	}, nil
}

// Name returns the tool registration name.
func (a *InkAdapter) Name() string {
	return annotations.ToolTypeInk.String()
}

// Activate marks the adapter active and paints the current page.
func (a *InkAdapter) Activate(context.Context) error {
	a.mu.Lock()
	a.active = true
	a.mu.Unlock()
	return a.RenderPage(a.frames.CurrentPage())
}

// Deactivate discards any in-flight stroke and stops accepting gestures.
func (a *InkAdapter) Deactivate(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
	a.discardStrokeLocked()
	return nil
}

// BeginStroke starts a stroke gesture. The content frame is captured up front:
// normalization happens point by point against the frame at gesture start, and a
// frame that has not laid out yet defers the gesture entirely.
func (a *InkAdapter) BeginStroke(pageNumber int) error {
	frame, err := a.frames.ContentFrame(pageNumber)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return ErrNoGesture
	}
	a.stroking = true
	a.strokePage = pageNumber
	a.strokeFrame = frame
	a.strokePoints = a.strokePoints[:0]
	return nil
}

// AppendPoint adds one raw point to the in-flight stroke.
func (a *InkAdapter) AppendPoint(point geometry.PixelPoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stroking {
		return
	}
	percent, err := geometry.PointToPercent(point, a.strokeFrame)
	if err != nil {
		a.logger.Warn("ink point normalization failed", zap.Error(err))
		return
	}
	a.strokePoints = append(a.strokePoints, percent)
}

// EndStroke records the stroke, enqueues it for persistence, and paints it.
func (a *InkAdapter) EndStroke() (annotations.Annotation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.stroking {
		return annotations.Annotation{}, ErrNoGesture
	}
	if len(a.strokePoints) < 2 {
		a.discardStrokeLocked()
		return annotations.Annotation{}, ErrEmptyGesture
	}

	style := a.style
	if scale := a.frames.CurrentScale(); scale > 0 && style.Thickness > 0 {
		style.Thickness = style.Thickness / scale
	}
	points := make([]geometry.PercentPoint, len(a.strokePoints))
	copy(points, a.strokePoints)

	created, err := a.store.Create(a.strokePage, "", annotations.Geometry{Points: points}, style)
	if err != nil {
		return annotations.Annotation{}, err
	}
	frame := a.strokeFrame
	a.discardStrokeLocked()
	a.outbox.Enqueue(created.WireRecord())
	a.paintLocked(created, frame)
	return created, nil
}

// RenderPage paints the page's stored strokes, idempotently by id.
func (a *InkAdapter) RenderPage(pageNumber int) error {
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

// RemoveAnnotation tombstones the stroke and removes its visible path.
func (a *InkAdapter) RemoveAnnotation(id annotations.AnnotationID) error {
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

// HandlePageChange aborts any in-flight stroke and repaints the new page.
func (a *InkAdapter) HandlePageChange(pageNumber int) {
	a.mu.Lock()
	a.discardStrokeLocked()
	a.tracker.clear(a.surface)
	a.mu.Unlock()

	if err := a.RenderPage(pageNumber); err != nil {
		a.logger.Warn("ink repaint deferred", zap.Int("page", pageNumber), zap.Error(err))
	}
}

// HandleScaleChange aborts any in-flight stroke and re-projects positions and
// stroke widths against the resized frame.
func (a *InkAdapter) HandleScaleChange(scale float64) {
	a.mu.Lock()
	a.discardStrokeLocked()
	a.tracker.clear(a.surface)
	a.mu.Unlock()

	page := a.frames.CurrentPage()
	if err := a.RenderPage(page); err != nil {
		a.logger.Warn("ink reprojection deferred",
			zap.Int("page", page), zap.Float64("scale", scale), zap.Error(err))
	}
}

// ExportAnnotations returns the stored records keyed by page.
func (a *InkAdapter) ExportAnnotations() annotations.PageRecords {
	return a.store.ExportAll()
}

// LoadAnnotations bulk-loads backend records and repaints the current page.
func (a *InkAdapter) LoadAnnotations(data annotations.PageRecords) annotations.ImportReport {
	report := a.store.ImportAll(data)

	a.mu.Lock()
	a.tracker = newElementTracker()
	a.mu.Unlock()

	page := a.frames.CurrentPage()
	if err := a.RenderPage(page); err != nil {
		a.logger.Warn("ink paint after load deferred", zap.Int("page", page), zap.Error(err))
	}
	return report
}

// Cleanup removes every visible path and drops gesture state.
func (a *InkAdapter) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discardStrokeLocked()
	a.tracker.clear(a.surface)
	a.tracker = newElementTracker()
}

func (a *InkAdapter) discardStrokeLocked() {
	a.stroking = false
	a.strokePage = 0
	a.strokeFrame = geometry.FrameRect{}
	a.strokePoints = nil
}

func (a *InkAdapter) paintLocked(annotation annotations.Annotation, frame geometry.FrameRect) {
	pixels := make([]geometry.PixelPoint, 0, len(annotation.Geometry.Points))
	for _, percent := range annotation.Geometry.Points {
		pixel, err := geometry.PointToPixels(percent, frame)
		if err != nil {
			a.logger.Warn("ink projection failed",
				zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
			return
		}
		pixels = append(pixels, pixel)
	}

	style := annotation.Style
	if style.Thickness > 0 {
		scaled, err := geometry.ScaleStrokeWidth(style.Thickness, 1.0, a.frames.CurrentScale())
		if err != nil {
			a.logger.Warn("ink stroke width scaling failed",
				zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
		} else {
			style.Thickness = scaled
		}
	}

	handle, err := a.surface.PlacePath(annotation.ID.String(), pixels, style)
	if err != nil {
		a.logger.Warn("ink placement failed",
			zap.String("annotation_id", annotation.ID.String()), zap.Error(err))
		return
	}
	a.tracker.track(annotation.ID, handle)
}
