package notes

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func seedNote(t *testing.T, store *Store, noteID, owner string, version, updatedAt int64) *Note {
	t.Helper()
	note := &Note{
		NoteID:           noteID,
		OwnerID:          owner,
		Title:            "seed",
		Version:          version,
		CreatedAtSeconds: updatedAt,
		UpdatedAtSeconds: updatedAt,
	}
	note.SetTags(nil)
	note.setShares(nil)
	if err := store.Create(context.Background(), note); err != nil {
		t.Fatalf("failed to seed note %s: %v", noteID, err)
	}
	return note
}

func TestStoreLoadMissingNote(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "absent")
	if !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound, got %v", err)
	}
}

func TestStoreCreateRejectsDuplicateID(t *testing.T) {
	store := newTestStore(t)
	seedNote(t, store, "note-1", "alice", 1, 1700000000)

	duplicate := &Note{NoteID: "note-1", OwnerID: "bob", Version: 1, CreatedAtSeconds: 1, UpdatedAtSeconds: 1}
	if err := store.Create(context.Background(), duplicate); !errors.Is(err, ErrNoteExists) {
		t.Fatalf("expected ErrNoteExists, got %v", err)
	}
}

func TestStoreSaveCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	seedNote(t, store, "note-1", "alice", 1, 1700000000)
	ctx := context.Background()

	first, err := store.Load(ctx, "note-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	second := first.Clone()

	first.Title = "writer one"
	first.Version = 2
	if err := store.Save(ctx, first, 1); err != nil {
		t.Fatalf("first writer should win: %v", err)
	}

	second.Title = "writer two"
	second.Version = 2
	if err := store.Save(ctx, second, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("second writer must observe a conflict, got %v", err)
	}

	current, err := store.Load(ctx, "note-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if current.Title != "writer one" || current.Version != 2 {
		t.Fatalf("unexpected surviving state: %q v%d", current.Title, current.Version)
	}
}

func TestStoreSaveMissingNote(t *testing.T) {
	store := newTestStore(t)

	ghost := &Note{NoteID: "ghost", Version: 2}
	if err := store.Save(context.Background(), ghost, 1); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("expected ErrNoteNotFound, got %v", err)
	}
}

func TestStoreListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seedNote(t, store, fmt.Sprintf("note-%d", i), "alice", 1, int64(1700000000+i))
	}

	page, next, err := store.List(ctx, "alice", nil, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 2 || next == nil {
		t.Fatalf("expected full page with next cursor, got %d rows", len(page))
	}
	if page[0].NoteID != "note-4" || page[1].NoteID != "note-3" {
		t.Fatalf("expected strictly descending order, got %s, %s", page[0].NoteID, page[1].NoteID)
	}

	cursor, err := DecodeCursor(next.Encode())
	if err != nil {
		t.Fatalf("cursor roundtrip failed: %v", err)
	}
	rest, last, err := store.List(ctx, "alice", cursor, 10)
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if len(rest) != 3 || last != nil {
		t.Fatalf("expected final page of 3 without cursor, got %d rows", len(rest))
	}
	if rest[0].NoteID != "note-2" {
		t.Fatalf("expected note-2 first on second page, got %s", rest[0].NoteID)
	}
}

func TestStoreListIncludesSharedAndSkipsDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owned := seedNote(t, store, "owned", "bob", 1, 1700000001)
	shared := seedNote(t, store, "shared", "alice", 1, 1700000002)
	if err := Grant(shared, "bob", LevelRead); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	shared.Version = 2
	if err := store.Save(ctx, shared, 1); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	owned.IsDeleted = true
	owned.Version = 2
	if err := store.Save(ctx, owned, 1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	page, _, err := store.List(ctx, "bob", nil, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(page) != 1 || page[0].NoteID != "shared" {
		t.Fatalf("expected only the shared live note, got %+v", page)
	}
}

func TestStoreListNeutralizesWildcardUserIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	shared := seedNote(t, store, "note-1", "alice", 1, 1700000001)
	if err := Grant(shared, "bob", LevelRead); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	shared.Version = 2
	if err := store.Save(ctx, shared, 1); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Wildcard ids must match only their own sharing entry, never bob's.
	for _, userID := range []string{"%", "b_b", "bo%", `b\ob`} {
		page, _, err := store.List(ctx, userID, nil, 10)
		if err != nil {
			t.Fatalf("list for %q failed: %v", userID, err)
		}
		if len(page) != 0 {
			t.Fatalf("user %q sees %d foreign notes", userID, len(page))
		}
	}

	// Escaping must not break lookups for ids that contain metacharacters.
	underscored := seedNote(t, store, "note-2", "alice", 1, 1700000002)
	if err := Grant(underscored, "b_b", LevelRead); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	underscored.Version = 2
	if err := store.Save(ctx, underscored, 1); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	page, _, err := store.List(ctx, "b_b", nil, 10)
	if err != nil {
		t.Fatalf("list for b_b failed: %v", err)
	}
	if len(page) != 1 || page[0].NoteID != "note-2" {
		t.Fatalf("expected b_b to see only its shared note, got %+v", page)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("!!not-base64!!"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
	if cursor, err := DecodeCursor("   "); err != nil || cursor != nil {
		t.Fatalf("blank cursor means first page, got %v %v", cursor, err)
	}
}
