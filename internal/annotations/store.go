package annotations

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errStoreMissingTool = errors.New("tool type is required")
	noOpLogger          = zap.NewNop()
)

// StoreConfig configures a per-tool annotation store.
type StoreConfig struct {
	ToolType   ToolType
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store holds one tool's annotation table together with the page index mapping each
// page number to the ordered identifiers stored on it. The two structures stay
// consistent across every mutation: no dangling ids, no orphaned index entries.
type Store struct {
	mu         sync.Mutex
	toolType   ToolType
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	table     map[AnnotationID]*Annotation
	pageIndex map[PageNumber][]AnnotationID
}

// NewStore constructs a Store for one tool namespace.
func NewStore(cfg StoreConfig) (*Store, error) {
	if _, err := ParseToolType(cfg.ToolType.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", errStoreMissingTool, err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		toolType:   cfg.ToolType,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		table:      make(map[AnnotationID]*Annotation),
		pageIndex:  make(map[PageNumber][]AnnotationID),
	}, nil
}

// ToolType returns the tool namespace this store serves.
func (s *Store) ToolType() ToolType {
	return s.toolType
}

// Change describes a partial update. Nil fields are left untouched.
type Change struct {
	Geometry *Geometry
	Style    *Style
	AuthorID *string
}

// Create builds a fresh annotation on the given page, inserts it into the table and
// the page index, and returns it. The only failure mode is an invalid page number.
func (s *Store) Create(page int, authorID string, geom Geometry, style Style) (Annotation, error) {
	pageNumber, err := NewPageNumber(page)
	if err != nil {
		return Annotation{}, err
	}
	rawID, err := s.idProvider.NewID()
	if err != nil {
		return Annotation{}, err
	}
	id, err := NewAnnotationID(rawID)
	if err != nil {
		return Annotation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := UnixMillis(s.clock().UnixMilli())
	record := &Annotation{
		ID:         id,
		ToolType:   s.toolType,
		PageNumber: pageNumber,
		AuthorID:   authorID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Geometry:   geom.Clamp(),
		Style:      style,
		Deleted:    false,
	}
	s.table[id] = record
	s.pageIndex[pageNumber] = append(s.pageIndex[pageNumber], id)
	return *record, nil
}

// Update merges the change into the stored annotation and bumps UpdatedAt.
func (s *Store) Update(id AnnotationID, change Change) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.table[id]
	if !ok {
		return Annotation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if change.Geometry != nil {
		record.Geometry = change.Geometry.Clamp()
	}
	if change.Style != nil {
		record.Style = *change.Style
	}
	if change.AuthorID != nil {
		record.AuthorID = *change.AuthorID
	}
	record.UpdatedAt = s.nextTimestamp(record.UpdatedAt)
	return *record, nil
}

// SoftDelete tombstones the annotation: the record survives with Deleted set and an
// advanced UpdatedAt. Deleting an already-deleted annotation is a benign no-op apart
// from the timestamp bump.
func (s *Store) SoftDelete(id AnnotationID) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.table[id]
	if !ok {
		return Annotation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	record.Deleted = true
	record.UpdatedAt = s.nextTimestamp(record.UpdatedAt)
	return *record, nil
}

// Get returns the annotation for the identifier, tombstoned or not.
func (s *Store) Get(id AnnotationID) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.table[id]
	if !ok {
		return Annotation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *record, nil
}

// ListByPage returns the page's non-deleted annotations in insertion order.
func (s *Store) ListByPage(page int) []Annotation {
	pageNumber, err := NewPageNumber(page)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.pageIndex[pageNumber]
	listed := make([]Annotation, 0, len(ids))
	for _, id := range ids {
		record, ok := s.table[id]
		if !ok || record.Deleted {
			continue
		}
		listed = append(listed, *record)
	}
	return listed
}

// ExportAll returns every stored record, tombstones included, keyed by page.
func (s *Store) ExportAll() PageRecords {
	s.mu.Lock()
	defer s.mu.Unlock()

	exported := make(PageRecords, len(s.pageIndex))
	pages := make([]PageNumber, 0, len(s.pageIndex))
	for page := range s.pageIndex {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	for _, page := range pages {
		ids := s.pageIndex[page]
		records := make([]Record, 0, len(ids))
		for _, id := range ids {
			record, ok := s.table[id]
			if !ok {
				continue
			}
			records = append(records, record.WireRecord())
		}
		if len(records) > 0 {
			exported[page.Int()] = records
		}
	}
	return exported
}

// ImportReport summarizes a bulk load.
type ImportReport struct {
	Imported int
	Skipped  int
}

// ImportAll replaces the store's contents with the bulk-read data. Malformed entries
// are skipped and logged, never fatal, and the page index is rebuilt from scratch so
// table and index come out consistent even when the source data is partially bad.
func (s *Store) ImportAll(data PageRecords) ImportReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table = make(map[AnnotationID]*Annotation)
	s.pageIndex = make(map[PageNumber][]AnnotationID)

	report := ImportReport{}
	pages := make([]int, 0, len(data))
	for page := range data {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	for _, page := range pages {
		pageNumber, err := NewPageNumber(page)
		if err != nil {
			report.Skipped += len(data[page])
			s.logger.Warn("skipping records under invalid page key",
				zap.String("tool", s.toolType.String()),
				zap.Int("page", page),
				zap.Error(err))
			continue
		}
		for _, wire := range data[page] {
			annotation, err := wire.Parse()
			if err != nil {
				report.Skipped++
				s.logger.Warn("skipping malformed annotation record",
					zap.String("tool", s.toolType.String()),
					zap.String("annotation_id", wire.ID),
					zap.Int("page", page),
					zap.Error(err))
				continue
			}
			if annotation.ToolType != s.toolType {
				report.Skipped++
				s.logger.Warn("skipping annotation record from foreign tool namespace",
					zap.String("tool", s.toolType.String()),
					zap.String("record_tool", annotation.ToolType.String()),
					zap.String("annotation_id", annotation.ID.String()))
				continue
			}
			if annotation.PageNumber != pageNumber {
				// The page key wins: the index is authoritative for placement.
				annotation.PageNumber = pageNumber
			}
			if _, exists := s.table[annotation.ID]; exists {
				report.Skipped++
				s.logger.Warn("skipping duplicate annotation record",
					zap.String("tool", s.toolType.String()),
					zap.String("annotation_id", annotation.ID.String()))
				continue
			}
			stored := annotation
			s.table[stored.ID] = &stored
			s.pageIndex[stored.PageNumber] = append(s.pageIndex[stored.PageNumber], stored.ID)
			report.Imported++
		}
	}
	return report
}

// Len returns the number of stored records, tombstones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table)
}

// nextTimestamp returns the current clock reading, advanced past previous so that
// UpdatedAt is strictly increasing per record even under a coarse clock.
func (s *Store) nextTimestamp(previous UnixMillis) UnixMillis {
	now := UnixMillis(s.clock().UnixMilli())
	if now <= previous {
		return previous + 1
	}
	return now
}
