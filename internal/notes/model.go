package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// OperationType enumerates supported client operations.
type OperationType string

const (
	// OperationTypeCreate builds a brand-new note owned by the acting user.
	OperationTypeCreate OperationType = "create"
	// OperationTypeUpdate applies field changes to an existing note.
	OperationTypeUpdate OperationType = "update"
	// OperationTypeDelete marks a note as soft-deleted.
	OperationTypeDelete OperationType = "delete"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ShareEntry grants one user a permission level on a note. A note holds at
// most one entry per user, and the owner is never listed.
type ShareEntry struct {
	UserID string `json:"user_id"`
	Level  Level  `json:"level"`
}

// Note models the persisted note with its sharing and versioning metadata.
// Tags and the sharing list are stored as JSON text columns so that the
// compare-and-swap on the version column covers them atomically.
type Note struct {
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_notes_owner_updated,priority:1"`
	Title            string `gorm:"column:title;type:text;not null;default:''"`
	Body             string `gorm:"column:body;type:text;not null;default:''"`
	TagsJSON         string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	SharesJSON       string `gorm:"column:shares_json;type:text;not null;default:'[]'"`
	IsPublic         bool   `gorm:"column:is_public;not null;default:false"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false;index:idx_notes_owner_updated,priority:3"`
	Version          int64  `gorm:"column:version;not null;default:1"`
	LastWriterTag    string `gorm:"column:last_writer_tag;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_notes_owner_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Tags decodes the ordered tag sequence. Duplicates supplied by clients are
// preserved verbatim.
func (n *Note) Tags() []string {
	if n.TagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(n.TagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// SetTags encodes the ordered tag sequence.
func (n *Note) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return
	}
	n.TagsJSON = string(encoded)
}

// Shares decodes the sharing list.
func (n *Note) Shares() []ShareEntry {
	if n.SharesJSON == "" {
		return nil
	}
	var shares []ShareEntry
	if err := json.Unmarshal([]byte(n.SharesJSON), &shares); err != nil {
		return nil
	}
	return shares
}

func (n *Note) setShares(shares []ShareEntry) {
	if shares == nil {
		shares = []ShareEntry{}
	}
	encoded, err := json.Marshal(shares)
	if err != nil {
		return
	}
	n.SharesJSON = string(encoded)
}

// AffectedUsers returns the owner plus every user currently in the sharing
// list. Cache invalidation and personal-channel fanout are scoped to this set.
func (n *Note) AffectedUsers() []string {
	users := []string{n.OwnerID}
	for _, share := range n.Shares() {
		if share.UserID != n.OwnerID {
			users = append(users, share.UserID)
		}
	}
	return users
}

// Clone returns a deep copy safe to hand to callers and subscribers.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	copied := *n
	return &copied
}

// ChangeRequest describes one client-originated mutation inside a sync batch.
// Title and Body are pointers so that an update can set either field without
// clobbering the other; a nil Tags slice leaves the stored tags untouched.
type ChangeRequest struct {
	CorrelationID string
	Operation     OperationType
	NoteID        string
	ClientVersion int64
	Title         *string
	Body          *string
	Tags          []string
	ClientTag     string
}

// ChangeStatus classifies the outcome of a single change.
type ChangeStatus string

const (
	// ChangeStatusOK means the change was committed.
	ChangeStatusOK ChangeStatus = "ok"
	// ChangeStatusConflict means the change was stale; the outcome carries
	// the authoritative snapshot so the client can rebase.
	ChangeStatusConflict ChangeStatus = "conflict"
	// ChangeStatusError means the change was rejected without commit.
	ChangeStatusError ChangeStatus = "error"
)

// Error codes carried by ChangeStatusError outcomes.
const (
	ErrorCodeNotFound         = "not_found"
	ErrorCodeForbidden        = "forbidden"
	ErrorCodeInvalidInput     = "invalid_input"
	ErrorCodeStoreUnavailable = "store_unavailable"
)

// ChangeOutcome reports the result of one change, in input order. The
// correlation id is echoed verbatim and never persisted.
type ChangeOutcome struct {
	CorrelationID string
	NoteID        string
	Status        ChangeStatus
	Note          *Note
	ErrorCode     string
	Reason        string
}
