package annotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAuthorID   = errors.New("author identifier is required")
)

// ServiceError wraps an operational failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "annotations.service.new"
	opApplyChanges    = "annotations.apply_changes"
	opListAnnotations = "annotations.list_annotations"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig configures the persistence-side annotation service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service applies client annotation batches against durable storage and serves the
// bulk-read shape back to clients.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
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
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// RecordOutcome pairs one incoming record with its reconciliation result.
type RecordOutcome struct {
	Record  Record
	Outcome ConflictOutcome
}

// ApplyResult reports the per-record outcomes of one batch.
type ApplyResult struct {
	RecordOutcomes []RecordOutcome
}

// ApplyChanges reconciles a batch of annotation records for one author inside a
// single transaction. Records that fail validation reject the whole batch: the
// client persists only data it already validated, so a malformed record is a
// protocol error rather than user input to tolerate.
func (s *Service) ApplyChanges(ctx context.Context, authorID string, records []Record) (ApplyResult, error) {
	if s.db == nil {
		s.logError(opApplyChanges, "missing_database", errMissingDatabase)
		return ApplyResult{}, newServiceError(opApplyChanges, "missing_database", errMissingDatabase)
	}
	if authorID == "" {
		s.logError(opApplyChanges, "missing_author_id", errMissingAuthorID)
		return ApplyResult{}, newServiceError(opApplyChanges, "missing_author_id", errMissingAuthorID)
	}

	result := ApplyResult{RecordOutcomes: make([]RecordOutcome, 0, len(records))}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			incoming, err := record.Parse()
			if err != nil {
				s.logError(opApplyChanges, "record_invalid", err,
					zap.String("author_id", authorID),
					zap.String("annotation_id", record.ID))
				return newServiceError(opApplyChanges, "record_invalid", err)
			}
			incoming.AuthorID = authorID

			var existing StoredAnnotation
			var existingPtr *StoredAnnotation
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("author_id = ? AND annotation_id = ?", authorID, incoming.ID.String()).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opApplyChanges, "annotation_select_failed", err,
					zap.String("author_id", authorID),
					zap.String("annotation_id", incoming.ID.String()))
				return newServiceError(opApplyChanges, "annotation_select_failed", err)
			} else {
				existingPtr = &existing
			}

			appliedAt := s.clock().UTC()
			outcome, err := resolveRecord(existingPtr, incoming, appliedAt)
			if err != nil {
				s.logError(opApplyChanges, "resolve_record_failed", err,
					zap.String("author_id", authorID),
					zap.String("annotation_id", incoming.ID.String()))
				return newServiceError(opApplyChanges, "resolve_record_failed", err)
			}

			if outcome.Accepted {
				if err := tx.Save(outcome.UpdatedRow).Error; err != nil {
					s.logError(opApplyChanges, "annotation_save_failed", err,
						zap.String("author_id", authorID),
						zap.String("annotation_id", incoming.ID.String()))
					return newServiceError(opApplyChanges, "annotation_save_failed", err)
				}

				if outcome.AuditRecord != nil {
					changeID, err := s.idProvider.NewID()
					if err != nil {
						s.logError(opApplyChanges, "id_generation_failed", err,
							zap.String("author_id", authorID))
						return newServiceError(opApplyChanges, "id_generation_failed", err)
					}
					outcome.AuditRecord.ChangeID = changeID
					if err := tx.Create(outcome.AuditRecord).Error; err != nil {
						s.logError(opApplyChanges, "audit_insert_failed", err,
							zap.String("author_id", authorID),
							zap.String("annotation_id", incoming.ID.String()))
						return newServiceError(opApplyChanges, "audit_insert_failed", err)
					}
				}
			}

			result.RecordOutcomes = append(result.RecordOutcomes, RecordOutcome{
				Record:  record,
				Outcome: outcome,
			})
		}
		return nil
	})
	if txErr != nil {
		return ApplyResult{}, txErr
	}
	return result, nil
}

// ListAnnotations returns the author's annotations in the bulk-read shape: per tool,
// a page-keyed map of record lists in creation order, tombstones included.
func (s *Service) ListAnnotations(ctx context.Context, authorID string) (ToolRecords, error) {
	if s.db == nil {
		s.logError(opListAnnotations, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListAnnotations, "missing_database", errMissingDatabase)
	}
	if authorID == "" {
		s.logError(opListAnnotations, "missing_author_id", errMissingAuthorID)
		return nil, newServiceError(opListAnnotations, "missing_author_id", errMissingAuthorID)
	}

	var rows []StoredAnnotation
	if err := s.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at_ms ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListAnnotations, "query_failed", err, zap.String("author_id", authorID))
		return nil, newServiceError(opListAnnotations, "query_failed", err)
	}

	listed := make(ToolRecords)
	for _, row := range rows {
		tool, err := ParseToolType(row.ToolType)
		if err != nil {
			s.logError(opListAnnotations, "row_tool_invalid", err,
				zap.String("author_id", authorID),
				zap.String("annotation_id", row.AnnotationID))
			continue
		}
		pages, ok := listed[tool]
		if !ok {
			pages = make(PageRecords)
			listed[tool] = pages
		}
		pages[row.PageNumber] = append(pages[row.PageNumber], row.WireRecord())
	}
	return listed, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("annotations service error", attrs...)
}
