package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("document store is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingInvalidator = errors.New("cache invalidator is required")
	// ErrForbidden indicates the acting user lacks the required permission level.
	ErrForbidden = errors.New("notes: forbidden")
	noOpLogger   = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside its cause.
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

// Code exposes the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opEngineNew    = "notes.engine.new"
	opApplyChanges = "notes.apply_changes"
	opShare        = "notes.share"
	opUnshare      = "notes.unshare"
	opSetPublic    = "notes.set_public"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider mints identifiers for notes created without a client-assigned id.
type IDProvider interface {
	NewID() (string, error)
}

// EngineConfig wires the sync engine's collaborators.
type EngineConfig struct {
	Store       *Store
	Invalidator Invalidator
	Fanout      Fanout
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
}

// Engine applies batches of client changes against authoritative state. It is
// the only component that commits document mutation transitions.
type Engine struct {
	store       *Store
	invalidator Invalidator
	fanout      Fanout
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
}

// NewEngine validates dependencies and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opEngineNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Invalidator == nil {
		return nil, newServiceError(opEngineNew, "missing_invalidator", errMissingInvalidator)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	fanout := cfg.Fanout
	if fanout == nil {
		fanout = NopFanout{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		store:       cfg.Store,
		invalidator: cfg.Invalidator,
		fanout:      fanout,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
	}, nil
}

// ApplyChanges processes an ordered batch sequentially and returns one
// outcome per change in input order. A change's failure never aborts its
// siblings, and the batch itself never fails as a whole.
func (e *Engine) ApplyChanges(ctx context.Context, actingUser UserID, changes []ChangeRequest) []ChangeOutcome {
	outcomes := make([]ChangeOutcome, 0, len(changes))
	for _, change := range changes {
		outcome := e.applyChange(ctx, actingUser, change)
		outcome.CorrelationID = change.CorrelationID
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (e *Engine) applyChange(ctx context.Context, actingUser UserID, change ChangeRequest) ChangeOutcome {
	switch change.Operation {
	case OperationTypeCreate:
		return e.applyCreate(ctx, actingUser, change)
	case OperationTypeUpdate:
		return e.applyUpdate(ctx, actingUser, change)
	case OperationTypeDelete:
		return e.applyDelete(ctx, actingUser, change)
	default:
		return errorOutcome(change.NoteID, ErrorCodeInvalidInput, fmt.Sprintf("unknown operation %q", change.Operation))
	}
}

func (e *Engine) applyCreate(ctx context.Context, actingUser UserID, change ChangeRequest) ChangeOutcome {
	noteID := change.NoteID
	if noteID != "" {
		if _, err := NewNoteID(noteID); err != nil {
			return errorOutcome(noteID, ErrorCodeInvalidInput, "invalid note id")
		}
		existing, err := e.store.Load(ctx, noteID)
		if err == nil {
			if existing.OwnerID == actingUser.String() {
				// Idempotent retry of a create with a pre-assigned identity.
				return okOutcome(existing)
			}
			return errorOutcome(noteID, ErrorCodeForbidden, "note id already owned by another user")
		}
		if !errors.Is(err, ErrNoteNotFound) {
			return e.storeErrorOutcome(actingUser, "note_load_failed", noteID, err)
		}
	} else {
		generated, err := e.idProvider.NewID()
		if err != nil {
			e.logError(opApplyChanges, "id_generation_failed", err, zap.String("user_id", actingUser.String()))
			return errorOutcome("", ErrorCodeStoreUnavailable, "id generation failed")
		}
		noteID = generated
	}

	now := e.clock().UTC().Unix()
	note := &Note{
		NoteID:           noteID,
		OwnerID:          actingUser.String(),
		Version:          initialVersion(change.ClientVersion),
		LastWriterTag:    change.ClientTag,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if change.Title != nil {
		note.Title = *change.Title
	}
	if change.Body != nil {
		note.Body = *change.Body
	}
	note.SetTags(change.Tags)
	note.setShares(nil)

	if err := e.store.Create(ctx, note); err != nil {
		if errors.Is(err, ErrNoteExists) {
			return e.reloadConflict(ctx, actingUser, noteID)
		}
		return e.storeErrorOutcome(actingUser, "note_create_failed", noteID, err)
	}

	if outcome, failed := e.invalidate(ctx, actingUser, note); failed {
		return outcome
	}
	e.publish(note, EventNoteCreated, actingUser.String())
	return okOutcome(note)
}

func (e *Engine) applyUpdate(ctx context.Context, actingUser UserID, change ChangeRequest) ChangeOutcome {
	if change.NoteID == "" {
		return errorOutcome("", ErrorCodeInvalidInput, "update requires a note id")
	}
	if change.ClientVersion <= 0 {
		return errorOutcome(change.NoteID, ErrorCodeInvalidInput, "update requires the client-observed version")
	}

	note, outcome, failed := e.loadForMutation(ctx, actingUser, change.NoteID)
	if failed {
		return outcome
	}
	if !admitVersion(note, change.ClientVersion) {
		return conflictOutcome(note)
	}

	loadedVersion := note.Version
	if change.Title != nil {
		note.Title = *change.Title
	}
	if change.Body != nil {
		note.Body = *change.Body
	}
	if change.Tags != nil {
		note.SetTags(change.Tags)
	}
	note.Version = loadedVersion + 1
	note.LastWriterTag = change.ClientTag
	note.UpdatedAtSeconds = e.clock().UTC().Unix()

	return e.commit(ctx, actingUser, note, loadedVersion, EventNoteUpdated)
}

func (e *Engine) applyDelete(ctx context.Context, actingUser UserID, change ChangeRequest) ChangeOutcome {
	if change.NoteID == "" {
		return errorOutcome("", ErrorCodeInvalidInput, "delete requires a note id")
	}

	note, outcome, failed := e.loadForMutation(ctx, actingUser, change.NoteID)
	if failed {
		return outcome
	}

	// Delete is idempotent toward any version and deliberately skips the
	// staleness gate applied to updates.
	loadedVersion := note.Version
	note.IsDeleted = true
	note.Version = loadedVersion + 1
	note.LastWriterTag = change.ClientTag
	note.UpdatedAtSeconds = e.clock().UTC().Unix()

	return e.commit(ctx, actingUser, note, loadedVersion, EventNoteDeleted)
}

// loadForMutation fetches the target and enforces the edit requirement shared
// by update and delete. The boolean reports whether the outcome is terminal.
func (e *Engine) loadForMutation(ctx context.Context, actingUser UserID, noteID string) (*Note, ChangeOutcome, bool) {
	note, err := e.store.Load(ctx, noteID)
	if errors.Is(err, ErrNoteNotFound) {
		return nil, errorOutcome(noteID, ErrorCodeNotFound, "note does not exist"), true
	}
	if err != nil {
		return nil, e.storeErrorOutcome(actingUser, "note_load_failed", noteID, err), true
	}
	if note.IsDeleted {
		return nil, errorOutcome(noteID, ErrorCodeNotFound, "note is deleted"), true
	}
	if Resolve(note, actingUser.String(), LevelEdit) == LevelNone {
		return nil, errorOutcome(noteID, ErrorCodeForbidden, "edit permission required"), true
	}
	return note, ChangeOutcome{}, false
}

// commit persists the mutated note with compare-and-swap, runs cache
// invalidation synchronously, then fans the event out. A storage-level race
// that slipped past the in-memory gate is reported as a conflict with the
// fresh snapshot, never a silent overwrite.
func (e *Engine) commit(ctx context.Context, actingUser UserID, note *Note, expectedVersion int64, eventType string) ChangeOutcome {
	if err := e.store.Save(ctx, note, expectedVersion); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return e.reloadConflict(ctx, actingUser, note.NoteID)
		}
		if errors.Is(err, ErrNoteNotFound) {
			return errorOutcome(note.NoteID, ErrorCodeNotFound, "note does not exist")
		}
		return e.storeErrorOutcome(actingUser, "note_save_failed", note.NoteID, err)
	}

	if outcome, failed := e.invalidate(ctx, actingUser, note); failed {
		return outcome
	}
	e.publish(note, eventType, actingUser.String())
	return okOutcome(note)
}

// invalidate purges cached read views for every affected user before the
// change is reported ok, preserving read-after-write for all of them.
func (e *Engine) invalidate(ctx context.Context, actingUser UserID, note *Note) (ChangeOutcome, bool) {
	if err := e.invalidator.Invalidate(ctx, note.AffectedUsers()); err != nil {
		e.logError(opApplyChanges, "cache_invalidation_failed", err,
			zap.String("user_id", actingUser.String()),
			zap.String("note_id", note.NoteID))
		return errorOutcome(note.NoteID, ErrorCodeStoreUnavailable, "cache invalidation failed"), true
	}
	return ChangeOutcome{}, false
}

// publish notifies the personal channel of every affected user and the
// note's own channel. Delivery is best-effort and never blocks the caller.
func (e *Engine) publish(note *Note, eventType, actorID string) {
	event := Event{
		Type:      eventType,
		NoteID:    note.NoteID,
		ActorID:   actorID,
		Note:      note.Clone(),
		Timestamp: e.clock().UTC(),
	}
	for _, userID := range note.AffectedUsers() {
		e.fanout.NotifyUser(userID, event)
	}
	e.fanout.NotifyDocument(note.NoteID, event)
}

func (e *Engine) reloadConflict(ctx context.Context, actingUser UserID, noteID string) ChangeOutcome {
	current, err := e.store.Load(ctx, noteID)
	if err != nil {
		return e.storeErrorOutcome(actingUser, "conflict_reload_failed", noteID, err)
	}
	return conflictOutcome(current)
}

func (e *Engine) storeErrorOutcome(actingUser UserID, reason, noteID string, err error) ChangeOutcome {
	e.logError(opApplyChanges, reason, err,
		zap.String("user_id", actingUser.String()),
		zap.String("note_id", noteID))
	return errorOutcome(noteID, ErrorCodeStoreUnavailable, reason)
}

func okOutcome(note *Note) ChangeOutcome {
	return ChangeOutcome{NoteID: note.NoteID, Status: ChangeStatusOK, Note: note.Clone()}
}

func conflictOutcome(note *Note) ChangeOutcome {
	return ChangeOutcome{NoteID: note.NoteID, Status: ChangeStatusConflict, Note: note.Clone()}
}

func errorOutcome(noteID, code, reason string) ChangeOutcome {
	return ChangeOutcome{NoteID: noteID, Status: ChangeStatusError, ErrorCode: code, Reason: reason}
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("sync engine error", attrs...)
}
