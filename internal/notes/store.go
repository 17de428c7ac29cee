package notes

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNoteNotFound indicates that no live or soft-deleted note exists for an id.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrNoteExists indicates a create collided with an existing note id.
	ErrNoteExists = errors.New("notes: note already exists")
	// ErrVersionConflict indicates another writer advanced the version between
	// load and save.
	ErrVersionConflict = errors.New("notes: version conflict")
	// ErrInvalidCursor indicates an unparseable pagination cursor.
	ErrInvalidCursor = errors.New("notes: invalid cursor")
	errMissingStoreDB = errors.New("notes: store requires a database handle")
)

// Store persists notes with optimistic concurrency on the version column.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingStoreDB
	}
	return &Store{db: db}, nil
}

// Load fetches a note by id, soft-deleted ones included.
func (s *Store) Load(ctx context.Context, noteID string) (*Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("note_id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// Create inserts a brand-new note.
func (s *Store) Create(ctx context.Context, note *Note) error {
	err := s.db.WithContext(ctx).Create(note).Error
	if err != nil && isUniqueViolation(err) {
		return ErrNoteExists
	}
	return err
}

// Save persists a mutated note with compare-and-swap semantics: the write
// lands only if the stored version still equals expectedVersion. A losing
// racer gets ErrVersionConflict, never a silent overwrite.
func (s *Store) Save(ctx context.Context, note *Note, expectedVersion int64) error {
	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ? AND version = ?", note.NoteID, expectedVersion).
		Updates(map[string]interface{}{
			"title":           note.Title,
			"body":            note.Body,
			"tags_json":       note.TagsJSON,
			"shares_json":     note.SharesJSON,
			"is_public":       note.IsPublic,
			"is_deleted":      note.IsDeleted,
			"version":         note.Version,
			"last_writer_tag": note.LastWriterTag,
			"updated_at_s":    note.UpdatedAtSeconds,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Note{}).
			Where("note_id = ?", note.NoteID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNoteNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// Cursor marks a position in the (updatedAt, id) listing order.
type Cursor struct {
	UpdatedAtSeconds int64
	NoteID           string
}

// Encode renders the cursor opaque for clients.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d:%s", c.UpdatedAtSeconds, c.NoteID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a client-supplied cursor. An empty string means the
// first page.
func DecodeCursor(encoded string) (*Cursor, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, ErrInvalidCursor
	}
	seconds, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{UpdatedAtSeconds: seconds, NoteID: parts[1]}, nil
}

// List returns up to limit live notes visible to the user (owned or shared
// with them), strictly descending by (updatedAt, id). It fetches limit+1 rows
// to detect whether a next page exists and returns its cursor when it does.
func (s *Store) List(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Note, *Cursor, error) {
	if limit <= 0 {
		limit = 50
	}
	sharePattern := `%"user_id":"` + escapeLikePattern(userID) + `"%`
	query := s.db.WithContext(ctx).
		Where("is_deleted = ?", false).
		Where(`owner_id = ? OR shares_json LIKE ? ESCAPE '\'`, userID, sharePattern)
	if cursor != nil {
		query = query.Where(
			"updated_at_s < ? OR (updated_at_s = ? AND note_id < ?)",
			cursor.UpdatedAtSeconds, cursor.UpdatedAtSeconds, cursor.NoteID,
		)
	}
	var rows []Note
	err := query.
		Order("updated_at_s DESC, note_id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	if len(rows) <= limit {
		return rows, nil, nil
	}
	page := rows[:limit]
	last := page[len(page)-1]
	next := &Cursor{UpdatedAtSeconds: last.UpdatedAtSeconds, NoteID: last.NoteID}
	return page, next, nil
}

// escapeLikePattern neutralizes LIKE metacharacters so a user id only ever
// matches its own sharing entry, never a wildcard over other users'.
func escapeLikePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "constraint failed")
}
