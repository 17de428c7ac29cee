package notes

import "testing"

func TestAdmitVersionAcceptsCurrentAndNewer(t *testing.T) {
	stored := &Note{NoteID: "note-1", Version: 4}

	if !admitVersion(stored, 4) {
		t.Fatal("client at the current version must be admitted")
	}
	if !admitVersion(stored, 9) {
		t.Fatal("client ahead of the server must be admitted")
	}
}

func TestAdmitVersionRejectsStaleClients(t *testing.T) {
	stored := &Note{NoteID: "note-1", Version: 4}

	if admitVersion(stored, 3) {
		t.Fatal("stale client version must be rejected")
	}
	if admitVersion(stored, 0) {
		t.Fatal("zero client version must be rejected")
	}
}

func TestAdmitVersionPassesMissingDocuments(t *testing.T) {
	if !admitVersion(nil, 0) {
		t.Fatal("creates are ungated")
	}
}

func TestInitialVersion(t *testing.T) {
	if got := initialVersion(0); got != 1 {
		t.Fatalf("expected 1 for unsuggested version, got %d", got)
	}
	if got := initialVersion(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := initialVersion(7); got != 7 {
		t.Fatalf("expected client-suggested 7 for retried create, got %d", got)
	}
}
