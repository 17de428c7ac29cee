package notes

import (
	"errors"
	"fmt"
)

// Level is the permission a user holds on a note. Levels form a total order
// for authorization purposes: owner > edit > read. LevelPublic authorizes
// exactly what LevelRead does and exists so callers can tell the two grants
// apart.
type Level string

const (
	// LevelNone grants nothing.
	LevelNone Level = ""
	// LevelRead permits fetching a note.
	LevelRead Level = "read"
	// LevelPublic is the derived read grant on public notes.
	LevelPublic Level = "public"
	// LevelEdit permits mutating a note's fields and deleting it.
	LevelEdit Level = "edit"
	// LevelOwner is held only by the note's owner.
	LevelOwner Level = "owner"
)

// ErrInvalidLevel indicates a level outside {read, edit} was supplied where a
// grantable level is required.
var ErrInvalidLevel = errors.New("notes: invalid permission level")

// ErrOwnerNotGrantable indicates an attempt to add the owner to their own
// sharing list.
var ErrOwnerNotGrantable = errors.New("notes: owner cannot appear in sharing list")

func rank(level Level) int {
	switch level {
	case LevelRead, LevelPublic:
		return 1
	case LevelEdit:
		return 2
	case LevelOwner:
		return 3
	default:
		return 0
	}
}

// Satisfies reports whether the held level authorizes the required one.
func (l Level) Satisfies(required Level) bool {
	return rank(l) >= rank(required)
}

// Resolve determines the permission a user holds on a note, evaluated in
// precedence order: ownership, then the public flag (read only), then the
// sharing list. A sharing-list entry is authoritative for its user: an
// insufficient entry yields LevelNone with no fallback to the public grant.
func Resolve(note *Note, userID string, required Level) Level {
	if note == nil || userID == "" {
		return LevelNone
	}
	if note.OwnerID == userID {
		return LevelOwner
	}
	if note.IsPublic && LevelPublic.Satisfies(required) {
		return LevelPublic
	}
	for _, share := range note.Shares() {
		if share.UserID != userID {
			continue
		}
		if share.Level.Satisfies(required) {
			return share.Level
		}
		return LevelNone
	}
	return LevelNone
}

// Grant inserts or replaces the sharing-list entry for a user. Only read and
// edit are grantable; the owner already holds everything and is never listed.
// Callers are responsible for verifying the acting user holds LevelOwner.
func Grant(note *Note, userID string, level Level) error {
	if level != LevelRead && level != LevelEdit {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	if userID == note.OwnerID {
		return ErrOwnerNotGrantable
	}
	shares := note.Shares()
	for i, share := range shares {
		if share.UserID == userID {
			shares[i].Level = level
			note.setShares(shares)
			return nil
		}
	}
	note.setShares(append(shares, ShareEntry{UserID: userID, Level: level}))
	return nil
}

// Revoke removes the sharing-list entry for a user and reports whether an
// entry was actually removed.
func Revoke(note *Note, userID string) bool {
	shares := note.Shares()
	for i, share := range shares {
		if share.UserID == userID {
			note.setShares(append(shares[:i], shares[i+1:]...))
			return true
		}
	}
	return false
}
