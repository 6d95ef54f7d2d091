package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrUnknownTool indicates an activation request for an unregistered tool name.
	ErrUnknownTool = errors.New("tools: unknown tool")
	// ErrDuplicateTool indicates a second registration under an existing name.
	ErrDuplicateTool = errors.New("tools: tool already registered")

	noOpLogger = zap.NewNop()
)

// Coordinator owns tool exclusivity: at most one tool is active at any time, and a
// deactivation hook always completes before the next activation hook starts. Page
// and scale notifications fan out to every registered tool so inactive tools keep
// their stored geometry consistent for when they are next activated.
type Coordinator struct {
	mu       sync.Mutex
	registry map[string]Tool
	order    []string
	active   string
	logger   *zap.Logger
}

// NewCoordinator constructs an idle coordinator.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = noOpLogger
	}
	return &Coordinator{
		registry: make(map[string]Tool),
		logger:   logger,
	}
}

// Register adds a tool under its name. Names are unique.
func (c *Coordinator) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("%w: nil tool", ErrUnknownTool)
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownTool)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.registry[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	c.registry[name] = tool
	c.order = append(c.order, name)
	return nil
}

// ActiveTool returns the name of the active tool, or the empty string when idle.
func (c *Coordinator) ActiveTool() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ActivateTool deactivates the currently active tool (if any, and if different) and
// activates the requested one. An unknown name leaves the state untouched. If the
// previous tool's deactivation hook fails the coordinator settles on idle rather
// than running two activation paths at once.
func (c *Coordinator) ActivateTool(ctx context.Context, name string) error {
	c.mu.Lock()
	next, ok := c.registry[name]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("activation requested for unknown tool", zap.String("tool", name))
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if c.active == name {
		c.mu.Unlock()
		return nil
	}
	previous := c.registry[c.active]
	c.active = ""
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Deactivate(ctx); err != nil {
			c.logger.Error("tool deactivation failed",
				zap.String("tool", previous.Name()), zap.Error(err))
			return err
		}
	}
	if err := next.Activate(ctx); err != nil {
		c.logger.Error("tool activation failed", zap.String("tool", name), zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.active = name
	c.mu.Unlock()
	c.logger.Debug("tool activated", zap.String("tool", name))
	return nil
}

// DeactivateCurrent runs the active tool's deactivation hook and settles on idle.
// No-op when already idle.
func (c *Coordinator) DeactivateCurrent(ctx context.Context) error {
	c.mu.Lock()
	tool := c.registry[c.active]
	c.active = ""
	c.mu.Unlock()

	if tool == nil {
		return nil
	}
	if err := tool.Deactivate(ctx); err != nil {
		c.logger.Error("tool deactivation failed",
			zap.String("tool", tool.Name()), zap.Error(err))
		return err
	}
	return nil
}

// NotifyPageChanged broadcasts the new page to every registered tool in
// registration order, regardless of activation state.
func (c *Coordinator) NotifyPageChanged(pageNumber int) {
	for _, tool := range c.snapshot() {
		tool.HandlePageChange(pageNumber)
	}
}

// NotifyScaleChanged broadcasts the new render scale to every registered tool in
// registration order, regardless of activation state.
func (c *Coordinator) NotifyScaleChanged(scale float64) {
	for _, tool := range c.snapshot() {
		tool.HandleScaleChange(scale)
	}
}

// Cleanup deactivates the current tool and runs every tool's cleanup hook.
func (c *Coordinator) Cleanup(ctx context.Context) {
	if err := c.DeactivateCurrent(ctx); err != nil {
		c.logger.Warn("deactivation during cleanup failed", zap.Error(err))
	}
	for _, tool := range c.snapshot() {
		tool.Cleanup()
	}
}

func (c *Coordinator) snapshot() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	listed := make([]Tool, 0, len(c.order))
	for _, name := range c.order {
		listed = append(listed, c.registry[name])
	}
	return listed
}
