package annotations

import "encoding/json"

// StoredAnnotation models the persisted annotation row with reconciliation metadata.
type StoredAnnotation struct {
	AuthorID        string `gorm:"column:author_id;primaryKey;size:190;not null;index:idx_annotations_author_updated,priority:1"`
	AnnotationID    string `gorm:"column:annotation_id;primaryKey;size:190;not null"`
	ToolType        string `gorm:"column:tool_type;size:32;not null;index:idx_annotations_author_updated,priority:2"`
	PageNumber      int    `gorm:"column:page_number;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index:idx_annotations_author_updated,priority:3"`
	GeometryJSON    string `gorm:"column:geometry_json;type:text;not null"`
	StyleJSON       string `gorm:"column:style_json;type:text;not null"`
	IsDeleted       bool   `gorm:"column:is_deleted;not null;default:false"`
	Version         int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (StoredAnnotation) TableName() string {
	return "annotations"
}

// AnnotationChange captures an append-only audit trail for annotation mutations.
type AnnotationChange struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null"`
	AuthorID         string `gorm:"column:author_id;not null;index:idx_changes_author_time,priority:1"`
	AnnotationID     string `gorm:"column:annotation_id;not null"`
	ToolType         string `gorm:"column:tool_type;size:32;not null"`
	AppliedAtMillis  int64  `gorm:"column:applied_at_ms;not null;index:idx_changes_author_time,priority:2"`
	ClientTimeMillis int64  `gorm:"column:client_time_ms;not null"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	PreviousVersion  *int64 `gorm:"column:prev_version"`
	NewVersion       *int64 `gorm:"column:new_version"`
}

// TableName provides the explicit table binding for GORM.
func (AnnotationChange) TableName() string {
	return "annotation_changes"
}

// WireRecord converts the stored row back into the wire representation. Rows with
// unreadable geometry or style columns still yield a record; the bad column decodes
// to its zero value so a bulk read never fails on one damaged row.
func (row StoredAnnotation) WireRecord() Record {
	var geom Geometry
	if row.GeometryJSON != "" {
		_ = json.Unmarshal([]byte(row.GeometryJSON), &geom)
	}
	var style Style
	if row.StyleJSON != "" {
		_ = json.Unmarshal([]byte(row.StyleJSON), &style)
	}
	return Record{
		ID:              row.AnnotationID,
		ToolType:        row.ToolType,
		PageNumber:      row.PageNumber,
		AuthorID:        row.AuthorID,
		Geometry:        geom,
		Style:           style,
		Deleted:         row.IsDeleted,
		CreatedAtMillis: row.CreatedAtMillis,
		TimestampMillis: row.UpdatedAtMillis,
	}
}
