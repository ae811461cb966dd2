package store

import "time"

const (
	RequestPending  = "pending"
	RequestComplete = "complete"

	EntityFile   = "file"
	EntityFolder = "folder"

	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewDenied   = "denied"

	CopyPending = "pending"
)

type Request struct {
	ID              string     `db:"id"`
	Status          string     `db:"status"`
	SubmittedBy     string     `db:"submitted_by"`
	SubmittedAt     time.Time  `db:"submitted_at"`
	SourceID        string     `db:"source_id"`
	SourcePath      string     `db:"source_path"`
	DestinationID   string     `db:"destination_id"`
	DestinationPath string     `db:"destination_path"`
	Note            string     `db:"note"`
	ProjectCode     string     `db:"project_code"`
	ReviewNotes     *string    `db:"review_notes"`
	CompletedBy     *string    `db:"completed_by"`
	CompletedAt     *time.Time `db:"completed_at"`
}

// Entity is one captured file or folder of a request. Review and copy status
// are only set for files.
type Entity struct {
	ID           string     `db:"id"`
	RequestID    string     `db:"request_id"`
	EntityID     string     `db:"entity_id"`
	EntityType   string     `db:"entity_type"`
	ReviewStatus *string    `db:"review_status"`
	ReviewedBy   *string    `db:"reviewed_by"`
	ReviewedAt   *time.Time `db:"reviewed_at"`
	ParentID     *string    `db:"parent_id"`
	CopyStatus   *string    `db:"copy_status"`
	Name         string     `db:"name"`
	UploadedBy   *string    `db:"uploaded_by"`
	UploadedAt   time.Time  `db:"uploaded_at"`
	DcmID        *string    `db:"dcm_id"`
	FileSize     *int64     `db:"file_size"`
}

func (e Entity) IsFile() bool {
	return e.EntityType == EntityFile
}

type RequestFilter struct {
	ProjectCode string
	Status      string
	SubmittedBy string
	Page        int
	PageSize    int
}

// EntityFilter selects entities of one request. Without ParentID only the
// top-level entities are listed. Query matches columns exactly, except the
// columns named in Partial which match by substring.
type EntityFilter struct {
	RequestID string
	ParentID  string
	Query     map[string]string
	Partial   []string
	OrderBy   string
	OrderDesc bool
	Page      int
	PageSize  int
}
