package notes

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Share grants targetUser a level on a note. Only the owner may change the
// sharing list. The grant bumps the note's version through the same
// compare-and-swap path as field mutations, so concurrent writers cannot
// overwrite it.
func (e *Engine) Share(ctx context.Context, actingUser UserID, noteID, targetUser string, level Level) (*Note, error) {
	note, err := e.loadForSharing(ctx, actingUser, noteID, opShare)
	if err != nil {
		return nil, err
	}
	if err := Grant(note, targetUser, level); err != nil {
		return nil, err
	}
	return e.commitSharing(ctx, actingUser, note, EventAccessGranted, targetUser, opShare)
}

// Unshare removes targetUser from the sharing list. Revoking an absent entry
// succeeds without committing, so the version stays put.
func (e *Engine) Unshare(ctx context.Context, actingUser UserID, noteID, targetUser string) (*Note, error) {
	note, err := e.loadForSharing(ctx, actingUser, noteID, opUnshare)
	if err != nil {
		return nil, err
	}
	if !Revoke(note, targetUser) {
		return note.Clone(), nil
	}
	return e.commitSharing(ctx, actingUser, note, EventAccessRevoked, targetUser, opUnshare)
}

// SetPublic flips the note's public flag, which grants read to any
// authenticated user while true.
func (e *Engine) SetPublic(ctx context.Context, actingUser UserID, noteID string, public bool) (*Note, error) {
	note, err := e.loadForSharing(ctx, actingUser, noteID, opSetPublic)
	if err != nil {
		return nil, err
	}
	note.IsPublic = public
	eventType := EventAccessGranted
	if !public {
		eventType = EventAccessRevoked
	}
	return e.commitSharing(ctx, actingUser, note, eventType, "", opSetPublic)
}

func (e *Engine) loadForSharing(ctx context.Context, actingUser UserID, noteID, operation string) (*Note, error) {
	note, err := e.store.Load(ctx, noteID)
	if err != nil {
		if !errors.Is(err, ErrNoteNotFound) {
			e.logError(operation, "note_load_failed", err, zap.String("note_id", noteID))
		}
		return nil, err
	}
	if note.IsDeleted {
		return nil, ErrNoteNotFound
	}
	if Resolve(note, actingUser.String(), LevelOwner) != LevelOwner {
		return nil, ErrForbidden
	}
	return note, nil
}

func (e *Engine) commitSharing(ctx context.Context, actingUser UserID, note *Note, eventType, targetUser, operation string) (*Note, error) {
	expectedVersion := note.Version
	note.Version = expectedVersion + 1
	note.UpdatedAtSeconds = e.clock().UTC().Unix()

	if err := e.store.Save(ctx, note, expectedVersion); err != nil {
		if !errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrNoteNotFound) {
			e.logError(operation, "note_save_failed", err, zap.String("note_id", note.NoteID))
		}
		return nil, err
	}

	// A revoked user no longer appears in the post-mutation sharing list but
	// their cached views still reference the note.
	affected := note.AffectedUsers()
	if targetUser != "" && !contains(affected, targetUser) {
		affected = append(affected, targetUser)
	}
	if err := e.invalidator.Invalidate(ctx, affected); err != nil {
		e.logError(operation, "cache_invalidation_failed", err, zap.String("note_id", note.NoteID))
		return nil, err
	}

	event := Event{
		Type:      eventType,
		NoteID:    note.NoteID,
		ActorID:   actingUser.String(),
		Note:      note.Clone(),
		Timestamp: e.clock().UTC(),
	}
	for _, userID := range affected {
		e.fanout.NotifyUser(userID, event)
	}
	e.fanout.NotifyDocument(note.NoteID, event)

	return note.Clone(), nil
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
