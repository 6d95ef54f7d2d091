package annotations

import (
	"fmt"
	"testing"
	"time"

	"github.com/pagemarklabs/pagemark/internal/geometry"
)

func mustAnnotationID(t *testing.T, value string) AnnotationID {
	t.Helper()
	id, err := NewAnnotationID(value)
	if err != nil {
		t.Fatalf("unexpected annotation id error: %v", err)
	}
	return id
}

func mustStore(t *testing.T, cfg StoreConfig) *Store {
	t.Helper()
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

// fakeClock advances a fixed step on every reading so timestamps stay deterministic.
type fakeClock struct {
	current time.Time
	step    time.Duration
}

func newFakeClock(startMillis int64, step time.Duration) *fakeClock {
	return &fakeClock{current: time.UnixMilli(startMillis), step: step}
}

func (c *fakeClock) Now() time.Time {
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// sequenceIDProvider issues id-1, id-2, ... for deterministic assertions.
type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

func singleRectGeometry(left, top, width, height float64) Geometry {
	return Geometry{Rects: []geometry.NormalizedRect{{
		LeftPercent:   left,
		TopPercent:    top,
		WidthPercent:  width,
		HeightPercent: height,
	}}}
}
