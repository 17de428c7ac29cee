package notes

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	copied := append([]string(nil), userIDs...)
	r.calls = append(r.calls, copied)
	return nil
}

func (r *recordingInvalidator) lastCall(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatal("expected at least one invalidation call")
	}
	return r.calls[len(r.calls)-1]
}

type recordedDelivery struct {
	channel string
	target  string
	event   Event
}

type recordingFanout struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
}

func (r *recordingFanout) NotifyUser(userID string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, recordedDelivery{channel: "user", target: userID, event: event})
}

func (r *recordingFanout) NotifyDocument(noteID string, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, recordedDelivery{channel: "document", target: noteID, event: event})
}

func (r *recordingFanout) eventsOfType(eventType string) []recordedDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []recordedDelivery
	for _, delivery := range r.deliveries {
		if delivery.event.Type == eventType {
			matched = append(matched, delivery)
		}
	}
	return matched
}

func newTestEngine(t *testing.T) (*Engine, *recordingInvalidator, *recordingFanout) {
	t.Helper()
	store := newTestStore(t)
	invalidator := &recordingInvalidator{}
	fanout := &recordingFanout{}
	engine, err := NewEngine(EngineConfig{
		Store:       store,
		Invalidator: invalidator,
		Fanout:      fanout,
		Clock:       func() time.Time { return time.Unix(1700000600, 0) },
		IDProvider:  NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return engine, invalidator, fanout
}

func stringPtr(value string) *string {
	return &value
}

func mustApplyOne(t *testing.T, engine *Engine, user string, change ChangeRequest) ChangeOutcome {
	t.Helper()
	outcomes := engine.ApplyChanges(context.Background(), UserID(user), []ChangeRequest{change})
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
	return outcomes[0]
}

func mustCreate(t *testing.T, engine *Engine, user, title string) *Note {
	t.Helper()
	outcome := mustApplyOne(t, engine, user, ChangeRequest{
		Operation: OperationTypeCreate,
		Title:     stringPtr(title),
	})
	if outcome.Status != ChangeStatusOK {
		t.Fatalf("create failed: %+v", outcome)
	}
	return outcome.Note
}

func TestCreateThenStaleUpdateYieldsConflict(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	created := mustCreate(t, engine, "alice", "A")
	if created.Version != 1 {
		t.Fatalf("fresh note must start at version 1, got %d", created.Version)
	}

	updated := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        created.NoteID,
		ClientVersion: 1,
		Title:         stringPtr("B"),
	})
	if updated.Status != ChangeStatusOK || updated.Note.Version != 2 {
		t.Fatalf("expected ok at version 2, got %+v", updated)
	}

	stale := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        created.NoteID,
		ClientVersion: 1,
		Title:         stringPtr("C"),
	})
	if stale.Status != ChangeStatusConflict {
		t.Fatalf("expected conflict for stale version, got %+v", stale)
	}
	if stale.Note == nil || stale.Note.Version != 2 {
		t.Fatalf("conflict must carry the authoritative snapshot at version 2, got %+v", stale.Note)
	}
	if stale.Note.Title != "B" {
		t.Fatalf("stale write must not land, got title %q", stale.Note.Title)
	}
}

func TestVersionStrictlyIncreases(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	note := mustCreate(t, engine, "alice", "v")
	lastVersion := note.Version
	for i := 0; i < 4; i++ {
		outcome := mustApplyOne(t, engine, "alice", ChangeRequest{
			Operation:     OperationTypeUpdate,
			NoteID:        note.NoteID,
			ClientVersion: lastVersion,
			Body:          stringPtr("rev"),
		})
		if outcome.Status != ChangeStatusOK {
			t.Fatalf("update %d failed: %+v", i, outcome)
		}
		if outcome.Note.Version <= lastVersion {
			t.Fatalf("version must strictly increase: %d then %d", lastVersion, outcome.Note.Version)
		}
		lastVersion = outcome.Note.Version
	}
}

func TestSharedReaderCannotUpdateUntilUpgraded(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "shared")
	if _, err := engine.Share(ctx, "alice", note.NoteID, "bob", LevelRead); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	denied := mustApplyOne(t, engine, "bob", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: 2,
		Title:         stringPtr("bob was here"),
	})
	if denied.Status != ChangeStatusError || denied.ErrorCode != ErrorCodeForbidden {
		t.Fatalf("reader update must be forbidden, got %+v", denied)
	}

	if _, err := engine.Share(ctx, "alice", note.NoteID, "bob", LevelEdit); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}

	allowed := mustApplyOne(t, engine, "bob", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: 3,
		Title:         stringPtr("bob was here"),
	})
	if allowed.Status != ChangeStatusOK {
		t.Fatalf("editor update must succeed, got %+v", allowed)
	}
}

func TestPublicNoteReadableButNotWritable(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "public")
	published, err := engine.SetPublic(ctx, "alice", note.NoteID, true)
	if err != nil {
		t.Fatalf("set public failed: %v", err)
	}
	if got := Resolve(published, "stranger", LevelRead); got != LevelPublic {
		t.Fatalf("expected public read grant, got %q", got)
	}

	denied := mustApplyOne(t, engine, "stranger", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: published.Version,
		Title:         stringPtr("defaced"),
	})
	if denied.Status != ChangeStatusError || denied.ErrorCode != ErrorCodeForbidden {
		t.Fatalf("public reader update must be forbidden, got %+v", denied)
	}
}

func TestBatchWithMalformedMiddleChange(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	outcomes := engine.ApplyChanges(context.Background(), "alice", []ChangeRequest{
		{CorrelationID: "c1", Operation: OperationTypeCreate, Title: stringPtr("first")},
		{CorrelationID: "c2", Operation: OperationTypeUpdate, Title: stringPtr("no id")},
		{CorrelationID: "c3", Operation: OperationTypeCreate, Title: stringPtr("third")},
	})
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Status != ChangeStatusOK {
		t.Fatalf("first change should succeed, got %+v", outcomes[0])
	}
	if outcomes[1].Status != ChangeStatusError || outcomes[1].ErrorCode != ErrorCodeInvalidInput {
		t.Fatalf("malformed change should be invalid_input, got %+v", outcomes[1])
	}
	if outcomes[2].Status != ChangeStatusOK {
		t.Fatalf("third change should succeed independently, got %+v", outcomes[2])
	}
	if outcomes[1].CorrelationID != "c2" {
		t.Fatalf("correlation id must be echoed verbatim, got %q", outcomes[1].CorrelationID)
	}
}

func TestDeleteIgnoresStaleVersion(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	note := mustCreate(t, engine, "alice", "doomed")
	bumped := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: 1,
		Body:          stringPtr("rev 2"),
	})
	if bumped.Status != ChangeStatusOK {
		t.Fatalf("setup update failed: %+v", bumped)
	}

	// Delete never consults the staleness gate: a client that last saw
	// version 1 may still delete a note now at version 2. Updates are gated,
	// deletes are not, and that asymmetry is intentional.
	deleted := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeDelete,
		NoteID:        note.NoteID,
		ClientVersion: 1,
	})
	if deleted.Status != ChangeStatusOK {
		t.Fatalf("stale delete must still succeed, got %+v", deleted)
	}
	if !deleted.Note.IsDeleted || deleted.Note.Version != 3 {
		t.Fatalf("delete must soft-delete and bump the version, got %+v", deleted.Note)
	}
}

func TestDeletedNoteAcceptsNoFurtherMutations(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	note := mustCreate(t, engine, "alice", "gone")
	if outcome := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation: OperationTypeDelete,
		NoteID:    note.NoteID,
	}); outcome.Status != ChangeStatusOK {
		t.Fatalf("delete failed: %+v", outcome)
	}

	update := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: 99,
		Title:         stringPtr("resurrect"),
	})
	if update.Status != ChangeStatusError || update.ErrorCode != ErrorCodeNotFound {
		t.Fatalf("deleted note must reject mutations as not_found, got %+v", update)
	}
}

func TestUpdateMissingNoteIsNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	outcome := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        "never-created",
		ClientVersion: 1,
	})
	if outcome.Status != ChangeStatusError || outcome.ErrorCode != ErrorCodeNotFound {
		t.Fatalf("expected not_found, got %+v", outcome)
	}
}

func TestCreateWithPreassignedIDIsIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	first := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation: OperationTypeCreate,
		NoteID:    "device-assigned",
		Title:     stringPtr("offline note"),
	})
	if first.Status != ChangeStatusOK {
		t.Fatalf("create failed: %+v", first)
	}

	retry := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation: OperationTypeCreate,
		NoteID:    "device-assigned",
		Title:     stringPtr("offline note"),
	})
	if retry.Status != ChangeStatusOK || retry.Note.Version != first.Note.Version {
		t.Fatalf("retried create must be idempotent, got %+v", retry)
	}

	hijack := mustApplyOne(t, engine, "mallory", ChangeRequest{
		Operation: OperationTypeCreate,
		NoteID:    "device-assigned",
	})
	if hijack.Status != ChangeStatusError || hijack.ErrorCode != ErrorCodeForbidden {
		t.Fatalf("foreign create on an owned id must be forbidden, got %+v", hijack)
	}
}

func TestCreateRejectsInvalidPreassignedID(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	oversized := strings.Repeat("a", 191)
	outcome := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation: OperationTypeCreate,
		NoteID:    oversized,
		Title:     stringPtr("offline note"),
	})
	if outcome.Status != ChangeStatusError || outcome.ErrorCode != ErrorCodeInvalidInput {
		t.Fatalf("oversized note id must be rejected as invalid input, got %+v", outcome)
	}
}

func TestMutationInvalidatesAllAffectedUsers(t *testing.T) {
	engine, invalidator, _ := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "watched")
	if _, err := engine.Share(ctx, "alice", note.NoteID, "bob", LevelEdit); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	outcome := mustApplyOne(t, engine, "bob", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: 2,
		Body:          stringPtr("edited by bob"),
	})
	if outcome.Status != ChangeStatusOK {
		t.Fatalf("update failed: %+v", outcome)
	}

	affected := invalidator.lastCall(t)
	if !contains(affected, "alice") || !contains(affected, "bob") {
		t.Fatalf("expected owner and sharee invalidated, got %v", affected)
	}
}

func TestInvalidationFailureSurfacesAsError(t *testing.T) {
	engine, invalidator, _ := newTestEngine(t)
	invalidator.fail = errors.New("redis down")

	outcome := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation: OperationTypeCreate,
		Title:     stringPtr("unlucky"),
	})
	if outcome.Status != ChangeStatusError || outcome.ErrorCode != ErrorCodeStoreUnavailable {
		t.Fatalf("failed invalidation must not report ok, got %+v", outcome)
	}
}

func TestFanoutReachesAffectedUsersAndDocumentRoom(t *testing.T) {
	engine, _, fanout := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "noisy")
	if _, err := engine.Share(ctx, "alice", note.NoteID, "bob", LevelRead); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	outcome := mustApplyOne(t, engine, "alice", ChangeRequest{
		Operation:     OperationTypeUpdate,
		NoteID:        note.NoteID,
		ClientVersion: 2,
		Title:         stringPtr("renamed"),
	})
	if outcome.Status != ChangeStatusOK {
		t.Fatalf("update failed: %+v", outcome)
	}

	updates := fanout.eventsOfType(EventNoteUpdated)
	targets := map[string]bool{}
	for _, delivery := range updates {
		targets[delivery.channel+":"+delivery.target] = true
	}
	for _, expected := range []string{"user:alice", "user:bob", "document:" + note.NoteID} {
		if !targets[expected] {
			t.Fatalf("expected delivery to %s, got %v", expected, targets)
		}
	}
}

func TestUnshareNotifiesAndInvalidatesRevokedUser(t *testing.T) {
	engine, invalidator, fanout := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "temporary access")
	if _, err := engine.Share(ctx, "alice", note.NoteID, "bob", LevelRead); err != nil {
		t.Fatalf("share failed: %v", err)
	}
	if _, err := engine.Unshare(ctx, "alice", note.NoteID, "bob"); err != nil {
		t.Fatalf("unshare failed: %v", err)
	}

	affected := invalidator.lastCall(t)
	if !contains(affected, "bob") {
		t.Fatalf("revoked user must still be invalidated, got %v", affected)
	}
	if len(fanout.eventsOfType(EventAccessRevoked)) == 0 {
		t.Fatal("expected access-revoked fanout")
	}
}

func TestUnshareAbsentEntryCommitsNothing(t *testing.T) {
	engine, invalidator, fanout := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "never shared")

	result, err := engine.Unshare(ctx, "alice", note.NoteID, "ghost")
	if err != nil {
		t.Fatalf("unshare of absent entry failed: %v", err)
	}
	if result.Version != note.Version {
		t.Fatalf("no-op revoke must not bump the version, got %d after %d", result.Version, note.Version)
	}

	stored, err := engine.store.Load(ctx, note.NoteID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if stored.Version != note.Version {
		t.Fatalf("no-op revoke must not be persisted, stored version %d", stored.Version)
	}
	if len(invalidator.lastCall(t)) != 1 {
		t.Fatalf("only the create invalidation should have run, got %v", invalidator.calls)
	}
	if len(fanout.eventsOfType(EventAccessRevoked)) != 0 {
		t.Fatal("no-op revoke must not fan out an access-revoked event")
	}
}

func TestSharingRequiresOwner(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	note := mustCreate(t, engine, "alice", "mine")
	if _, err := engine.Share(ctx, "alice", note.NoteID, "bob", LevelEdit); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	if _, err := engine.Share(ctx, "bob", note.NoteID, "carol", LevelRead); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor must not manage sharing, got %v", err)
	}
	if _, err := engine.SetPublic(ctx, "bob", note.NoteID, true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor must not publish, got %v", err)
	}
}
