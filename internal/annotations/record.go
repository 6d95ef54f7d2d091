package annotations

// Record is the wire representation of one annotation, shared by the save batch and
// the bulk-read response. Tombstones travel as regular records with Deleted set.
type Record struct {
	ID              string   `json:"id"`
	ToolType        string   `json:"toolType"`
	PageNumber      int      `json:"pageNumber"`
	AuthorID        string   `json:"authorId,omitempty"`
	Geometry        Geometry `json:"geometry"`
	Style           Style    `json:"style"`
	Deleted         bool     `json:"deleted"`
	CreatedAtMillis int64    `json:"createdAt,omitempty"`
	TimestampMillis int64    `json:"timestamp"`
}

// PageRecords maps a page number to the records stored on that page.
type PageRecords map[int][]Record

// ToolRecords is the bulk-read shape: per tool, the page-keyed record lists.
type ToolRecords map[ToolType]PageRecords

// Parse validates the record's fields and returns the in-memory annotation form.
// Geometry is clamped to the persistable range.
func (r Record) Parse() (Annotation, error) {
	id, err := NewAnnotationID(r.ID)
	if err != nil {
		return Annotation{}, err
	}
	tool, err := ParseToolType(r.ToolType)
	if err != nil {
		return Annotation{}, err
	}
	page, err := NewPageNumber(r.PageNumber)
	if err != nil {
		return Annotation{}, err
	}
	updatedAt, err := NewUnixMillis(r.TimestampMillis)
	if err != nil {
		return Annotation{}, err
	}
	createdAt := updatedAt
	if r.CreatedAtMillis > 0 {
		createdAt = UnixMillis(r.CreatedAtMillis)
	}
	if createdAt > updatedAt {
		createdAt = updatedAt
	}
	return Annotation{
		ID:         id,
		ToolType:   tool,
		PageNumber: page,
		AuthorID:   r.AuthorID,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		Geometry:   r.Geometry.Clamp(),
		Style:      r.Style,
		Deleted:    r.Deleted,
	}, nil
}

// WireRecord converts the annotation into its wire form.
func (a Annotation) WireRecord() Record {
	return Record{
		ID:              a.ID.String(),
		ToolType:        a.ToolType.String(),
		PageNumber:      a.PageNumber.Int(),
		AuthorID:        a.AuthorID,
		Geometry:        a.Geometry,
		Style:           a.Style,
		Deleted:         a.Deleted,
		CreatedAtMillis: a.CreatedAt.Int64(),
		TimestampMillis: a.UpdatedAt.Int64(),
	}
}
