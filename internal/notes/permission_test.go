package notes

import "testing"

func newSharedNote(t *testing.T, owner string, shares []ShareEntry) *Note {
	t.Helper()
	note := &Note{
		NoteID:           "note-1",
		OwnerID:          owner,
		Version:          1,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: 1700000000,
	}
	note.setShares(shares)
	return note
}

func TestResolveOwnerAlwaysWins(t *testing.T) {
	note := newSharedNote(t, "alice", nil)
	for _, required := range []Level{LevelRead, LevelEdit, LevelOwner} {
		if got := Resolve(note, "alice", required); got != LevelOwner {
			t.Fatalf("expected owner for required %q, got %q", required, got)
		}
	}
}

func TestResolvePublicGrantsReadOnly(t *testing.T) {
	note := newSharedNote(t, "alice", nil)
	note.IsPublic = true

	if got := Resolve(note, "stranger", LevelRead); got != LevelPublic {
		t.Fatalf("expected public read grant, got %q", got)
	}
	if got := Resolve(note, "stranger", LevelEdit); got != LevelNone {
		t.Fatalf("public note must not grant edit, got %q", got)
	}
}

func TestResolveSharingListEntry(t *testing.T) {
	note := newSharedNote(t, "alice", []ShareEntry{
		{UserID: "bob", Level: LevelRead},
		{UserID: "carol", Level: LevelEdit},
	})

	if got := Resolve(note, "bob", LevelRead); got != LevelRead {
		t.Fatalf("expected read for bob, got %q", got)
	}
	if got := Resolve(note, "bob", LevelEdit); got != LevelNone {
		t.Fatalf("read entry must not satisfy edit, got %q", got)
	}
	if got := Resolve(note, "carol", LevelEdit); got != LevelEdit {
		t.Fatalf("expected edit for carol, got %q", got)
	}
	if got := Resolve(note, "carol", LevelRead); got != LevelEdit {
		t.Fatalf("edit entry satisfies read, got %q", got)
	}
}

func TestResolveInsufficientEntryDoesNotFallBackToPublic(t *testing.T) {
	note := newSharedNote(t, "alice", []ShareEntry{{UserID: "bob", Level: LevelRead}})
	note.IsPublic = false

	if got := Resolve(note, "bob", LevelEdit); got != LevelNone {
		t.Fatalf("expected none, got %q", got)
	}
}

func TestResolveStrangerGetsNothing(t *testing.T) {
	note := newSharedNote(t, "alice", []ShareEntry{{UserID: "bob", Level: LevelEdit}})
	for _, required := range []Level{LevelRead, LevelEdit, LevelOwner} {
		if got := Resolve(note, "mallory", required); got != LevelNone {
			t.Fatalf("expected none for required %q, got %q", required, got)
		}
	}
}

func TestGrantReplacesExistingEntry(t *testing.T) {
	note := newSharedNote(t, "alice", nil)

	if err := Grant(note, "bob", LevelRead); err != nil {
		t.Fatalf("unexpected grant error: %v", err)
	}
	if got := Resolve(note, "bob", LevelRead); got != LevelRead {
		t.Fatalf("expected read after grant, got %q", got)
	}

	if err := Grant(note, "bob", LevelEdit); err != nil {
		t.Fatalf("unexpected upgrade error: %v", err)
	}
	shares := note.Shares()
	if len(shares) != 1 {
		t.Fatalf("expected single entry after replacement, got %d", len(shares))
	}
	if got := Resolve(note, "bob", LevelEdit); got != LevelEdit {
		t.Fatalf("expected edit after upgrade, got %q", got)
	}
}

func TestGrantRejectsOwnerAndBadLevels(t *testing.T) {
	note := newSharedNote(t, "alice", nil)

	if err := Grant(note, "alice", LevelRead); err == nil {
		t.Fatal("expected error granting to the owner")
	}
	if err := Grant(note, "bob", LevelOwner); err == nil {
		t.Fatal("expected error granting owner level")
	}
	if err := Grant(note, "bob", Level("admin")); err == nil {
		t.Fatal("expected error granting unknown level")
	}
}

func TestRevokeRemovesEntryAndIgnoresAbsent(t *testing.T) {
	note := newSharedNote(t, "alice", []ShareEntry{{UserID: "bob", Level: LevelEdit}})

	Revoke(note, "bob")
	if got := Resolve(note, "bob", LevelRead); got != LevelNone {
		t.Fatalf("expected none after revoke, got %q", got)
	}

	Revoke(note, "bob")
	if len(note.Shares()) != 0 {
		t.Fatalf("expected empty sharing list, got %v", note.Shares())
	}
}

func TestRevokedUserStillBenefitsFromPublic(t *testing.T) {
	note := newSharedNote(t, "alice", []ShareEntry{{UserID: "bob", Level: LevelEdit}})
	note.IsPublic = true

	Revoke(note, "bob")
	if got := Resolve(note, "bob", LevelRead); got != LevelPublic {
		t.Fatalf("expected public read after revoke, got %q", got)
	}
}
