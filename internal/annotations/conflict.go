package annotations

import (
	"encoding/json"
	"time"
)

// ConflictOutcome captures the decision from resolveRecord.
type ConflictOutcome struct {
	Accepted    bool
	UpdatedRow  *StoredAnnotation
	AuditRecord *AnnotationChange
}

// resolveRecord reconciles one incoming annotation against the stored row.
// Last write wins by client timestamp; equal timestamps accept the incoming record
// so a tombstone overwrite coalesced with its create still lands.
func resolveRecord(existing *StoredAnnotation, incoming Annotation, appliedAt time.Time) (ConflictOutcome, error) {
	stored := StoredAnnotation{
		AuthorID:        incoming.AuthorID,
		AnnotationID:    incoming.ID.String(),
		ToolType:        incoming.ToolType.String(),
		PageNumber:      incoming.PageNumber.Int(),
		CreatedAtMillis: incoming.CreatedAt.Int64(),
	}
	if existing != nil {
		stored = *existing
	}

	acceptChange := existing == nil || incoming.UpdatedAt.Int64() >= stored.UpdatedAtMillis
	if !acceptChange {
		copyStored := stored
		return ConflictOutcome{
			Accepted:   false,
			UpdatedRow: &copyStored,
		}, nil
	}

	geometryJSON, err := json.Marshal(incoming.Geometry)
	if err != nil {
		return ConflictOutcome{}, err
	}
	styleJSON, err := json.Marshal(incoming.Style)
	if err != nil {
		return ConflictOutcome{}, err
	}

	updated := stored
	updated.ToolType = incoming.ToolType.String()
	updated.PageNumber = incoming.PageNumber.Int()
	updated.UpdatedAtMillis = incoming.UpdatedAt.Int64()
	updated.IsDeleted = incoming.Deleted
	bareTombstone := incoming.Deleted && incoming.Geometry.Empty() && stored.GeometryJSON != ""
	if !bareTombstone {
		updated.GeometryJSON = string(geometryJSON)
		updated.StyleJSON = string(styleJSON)
	}
	if updated.CreatedAtMillis == 0 || incoming.CreatedAt.Int64() < updated.CreatedAtMillis {
		updated.CreatedAtMillis = incoming.CreatedAt.Int64()
	}
	if updated.UpdatedAtMillis < updated.CreatedAtMillis {
		updated.CreatedAtMillis = updated.UpdatedAtMillis
	}

	nextVersion := stored.Version + 1
	if nextVersion <= 0 {
		nextVersion = 1
	}
	updated.Version = nextVersion

	payloadJSON, err := json.Marshal(incoming.WireRecord())
	if err != nil {
		return ConflictOutcome{}, err
	}

	audit := &AnnotationChange{
		AuthorID:         updated.AuthorID,
		AnnotationID:     updated.AnnotationID,
		ToolType:         updated.ToolType,
		AppliedAtMillis:  appliedAt.UnixMilli(),
		ClientTimeMillis: incoming.UpdatedAt.Int64(),
		IsDeleted:        updated.IsDeleted,
		PayloadJSON:      string(payloadJSON),
	}
	if stored.Version > 0 {
		audit.PreviousVersion = pointerTo(stored.Version)
	}
	audit.NewVersion = pointerTo(updated.Version)

	return ConflictOutcome{
		Accepted:    true,
		UpdatedRow:  &updated,
		AuditRecord: audit,
	}, nil
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
