package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pagemarklabs/pagemark/internal/annotations"
)

// recordingTool logs hook invocations into a shared journal so ordering between
// tools can be asserted.
type recordingTool struct {
	name          string
	journal       *[]string
	deactivateErr error
	activateErr   error
	pages         []int
	scales        []float64
	cleanedUp     bool
}

func (t *recordingTool) Name() string { return t.name }

func (t *recordingTool) Activate(context.Context) error {
	*t.journal = append(*t.journal, t.name+":activate")
	return t.activateErr
}

func (t *recordingTool) Deactivate(context.Context) error {
	*t.journal = append(*t.journal, t.name+":deactivate")
	return t.deactivateErr
}

func (t *recordingTool) HandlePageChange(pageNumber int) {
	t.pages = append(t.pages, pageNumber)
}

func (t *recordingTool) HandleScaleChange(scale float64) {
	t.scales = append(t.scales, scale)
}

func (t *recordingTool) ExportAnnotations() annotations.PageRecords { return nil }

func (t *recordingTool) LoadAnnotations(annotations.PageRecords) annotations.ImportReport {
	return annotations.ImportReport{}
}

func (t *recordingTool) Cleanup() { t.cleanedUp = true }

func newTestCoordinator(t *testing.T, names ...string) (*Coordinator, map[string]*recordingTool, *[]string) {
	t.Helper()
	journal := &[]string{}
	coordinator := NewCoordinator(nil)
	registered := make(map[string]*recordingTool, len(names))
	for _, name := range names {
		tool := &recordingTool{name: name, journal: journal}
		if err := coordinator.Register(tool); err != nil {
			t.Fatalf("unexpected register error: %v", err)
		}
		registered[name] = tool
	}
	return coordinator, registered, journal
}

func TestActivateToolEnforcesExclusivity(t *testing.T) {
	coordinator, _, journal := newTestCoordinator(t, "highlight", "ink")
	ctx := context.Background()

	if err := coordinator.ActivateTool(ctx, "highlight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if coordinator.ActiveTool() != "highlight" {
		t.Fatalf("expected highlight active, got %q", coordinator.ActiveTool())
	}

	if err := coordinator.ActivateTool(ctx, "ink"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if coordinator.ActiveTool() != "ink" {
		t.Fatalf("expected ink active, got %q", coordinator.ActiveTool())
	}

	want := []string{"highlight:activate", "highlight:deactivate", "ink:activate"}
	if fmt.Sprint(*journal) != fmt.Sprint(want) {
		t.Fatalf("unexpected hook order: %v", *journal)
	}
}

func TestActivateToolIsNoOpWhenAlreadyActive(t *testing.T) {
	coordinator, _, journal := newTestCoordinator(t, "highlight")
	ctx := context.Background()

	if err := coordinator.ActivateTool(ctx, "highlight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := coordinator.ActivateTool(ctx, "highlight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*journal) != 1 {
		t.Fatalf("expected a single activation, got %v", *journal)
	}
}

func TestActivateUnknownToolLeavesStateUntouched(t *testing.T) {
	coordinator, _, journal := newTestCoordinator(t, "highlight")
	ctx := context.Background()

	if err := coordinator.ActivateTool(ctx, "highlight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := coordinator.ActivateTool(ctx, "stamp")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if coordinator.ActiveTool() != "highlight" {
		t.Fatalf("expected highlight to stay active, got %q", coordinator.ActiveTool())
	}
	if len(*journal) != 1 {
		t.Fatalf("expected no extra hooks, got %v", *journal)
	}
}

func TestFailedDeactivationSettlesOnIdle(t *testing.T) {
	coordinator, registered, _ := newTestCoordinator(t, "highlight", "ink")
	ctx := context.Background()

	if err := coordinator.ActivateTool(ctx, "highlight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registered["highlight"].deactivateErr = errors.New("surface busy")

	if err := coordinator.ActivateTool(ctx, "ink"); err == nil {
		t.Fatalf("expected deactivation failure to surface")
	}
	if coordinator.ActiveTool() != "" {
		t.Fatalf("expected idle after failed switch, got %q", coordinator.ActiveTool())
	}
}

func TestDeactivateCurrentIsNoOpWhenIdle(t *testing.T) {
	coordinator, _, journal := newTestCoordinator(t, "highlight")
	if err := coordinator.DeactivateCurrent(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*journal) != 0 {
		t.Fatalf("expected no hooks when idle, got %v", *journal)
	}
}

func TestNotificationsReachInactiveTools(t *testing.T) {
	coordinator, registered, _ := newTestCoordinator(t, "highlight", "ink", "note")
	ctx := context.Background()

	if err := coordinator.ActivateTool(ctx, "ink"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coordinator.NotifyPageChanged(4)
	coordinator.NotifyScaleChanged(1.5)

	for name, tool := range registered {
		if len(tool.pages) != 1 || tool.pages[0] != 4 {
			t.Fatalf("tool %s missed page notification: %v", name, tool.pages)
		}
		if len(tool.scales) != 1 || tool.scales[0] != 1.5 {
			t.Fatalf("tool %s missed scale notification: %v", name, tool.scales)
		}
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, "highlight")
	journal := []string{}
	err := coordinator.Register(&recordingTool{name: "highlight", journal: &journal})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestCleanupDeactivatesAndSweepsEveryTool(t *testing.T) {
	coordinator, registered, journal := newTestCoordinator(t, "highlight", "ink")
	ctx := context.Background()

	if err := coordinator.ActivateTool(ctx, "highlight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coordinator.Cleanup(ctx)

	if coordinator.ActiveTool() != "" {
		t.Fatalf("expected idle after cleanup")
	}
	if (*journal)[len(*journal)-1] != "highlight:deactivate" {
		t.Fatalf("expected deactivation during cleanup, got %v", *journal)
	}
	for name, tool := range registered {
		if !tool.cleanedUp {
			t.Fatalf("tool %s not cleaned up", name)
		}
	}
}
