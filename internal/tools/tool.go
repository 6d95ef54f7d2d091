package tools

import (
	"context"

	"github.com/pagemarklabs/pagemark/internal/annotations"
)

// Tool is the capability surface the coordinator drives. Each annotation kind
// (highlight rectangles, ink strokes, positioned markers) provides one concrete
// implementation; the coordinator depends only on this interface.
type Tool interface {
	// Name returns the unique registration name, matching the tool namespace.
	Name() string
	// Activate is invoked when the tool becomes the single active tool.
	Activate(ctx context.Context) error
	// Deactivate is invoked before another tool activates or on explicit
	// deactivation. It always runs strictly before the next tool's Activate.
	Deactivate(ctx context.Context) error
	// HandlePageChange is broadcast to every registered tool, active or not.
	HandlePageChange(pageNumber int)
	// HandleScaleChange is broadcast to every registered tool, active or not.
	HandleScaleChange(scale float64)
	// ExportAnnotations returns the tool's stored records, keyed by page.
	ExportAnnotations() annotations.PageRecords
	// LoadAnnotations bulk-loads records handed back by the persistence endpoint.
	LoadAnnotations(data annotations.PageRecords) annotations.ImportReport
	// Cleanup releases visible elements and in-flight gesture state.
	Cleanup()
}
