// Package invites issues and redeems single-use capability tokens that grant
// a permission level on a note. Only a one-way hash of the secret is ever
// persisted; the plaintext exists once, in the issue response.
package invites

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MeetModi24/notesync/backend/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secretByteLength = 32

var (
	// ErrInviteInvalid indicates no invite matches the supplied secret.
	ErrInviteInvalid = errors.New("invites: invalid invite")
	// ErrInviteUsed indicates the invite was already redeemed.
	ErrInviteUsed = errors.New("invites: invite already used")
	// ErrInviteExpired indicates the invite is past its deadline. Detection is
	// terminal: the invite is consumed.
	ErrInviteExpired = errors.New("invites: invite expired")
	// ErrInviteEmailMismatch indicates an email-restricted invite was redeemed
	// with the wrong email. The invite stays live for a correct retry.
	ErrInviteEmailMismatch = errors.New("invites: email mismatch")
	// ErrInvalidGrant indicates the requested level is not grantable.
	ErrInvalidGrant = errors.New("invites: grant level must be read or edit")

	errMissingDatabase   = errors.New("invites: database handle is required")
	errMissingIDProvider = errors.New("invites: id provider is required")
)

// Invite is the persisted capability token. SecretHash is the hex SHA-256 of
// the plaintext secret; the plaintext itself is never stored or logged.
type Invite struct {
	InviteID         string `gorm:"column:invite_id;primaryKey;size:190;not null"`
	NoteID           string `gorm:"column:note_id;size:190;not null;index"`
	IssuerID         string `gorm:"column:issuer_id;size:190;not null"`
	Level            string `gorm:"column:level;size:16;not null"`
	Email            string `gorm:"column:email;size:320;not null;default:''"`
	SecretHash       string `gorm:"column:secret_hash;size:64;not null;uniqueIndex"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;default:0"`
	Used             bool   `gorm:"column:used;not null;default:false"`
	UsedByID         string `gorm:"column:used_by_id;size:190;not null;default:''"`
	UsedAtSeconds    int64  `gorm:"column:used_at_s;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Invite) TableName() string {
	return "note_invites"
}

// ManagerConfig wires the invite manager's dependencies.
type ManagerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider notes.IDProvider
	Logger     *zap.Logger
}

// Manager owns the invite lifecycle. The permission grant that follows a
// successful redemption is the caller's responsibility.
type Manager struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider notes.IDProvider
	logger     *zap.Logger
}

// NewManager validates dependencies and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Issue mints a single-use invite for a note and returns both the stored
// record and the plaintext secret. The issuer must already have been verified
// as the note's owner at the route boundary. A zero ttl means no expiry; the
// email restriction is stored lowercase and compared case-insensitively.
func (m *Manager) Issue(ctx context.Context, issuerID, noteID string, level notes.Level, email string, ttl time.Duration) (*Invite, string, error) {
	if level != notes.LevelRead && level != notes.LevelEdit {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidGrant, level)
	}

	secretBytes := make([]byte, secretByteLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("invites: secret generation failed: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	inviteID, err := m.idProvider.NewID()
	if err != nil {
		return nil, "", fmt.Errorf("invites: id generation failed: %w", err)
	}

	now := m.clock().UTC()
	invite := &Invite{
		InviteID:         inviteID,
		NoteID:           noteID,
		IssuerID:         issuerID,
		Level:            string(level),
		Email:            strings.ToLower(strings.TrimSpace(email)),
		SecretHash:       hashSecret(secret),
		CreatedAtSeconds: now.Unix(),
	}
	if ttl > 0 {
		invite.ExpiresAtSeconds = now.Add(ttl).Unix()
	}

	if err := m.db.WithContext(ctx).Create(invite).Error; err != nil {
		m.logger.Error("invite insert failed", zap.Error(err), zap.String("note_id", noteID))
		return nil, "", err
	}
	return invite, secret, nil
}

// Redeem consumes an invite and returns the permission level to grant.
// Redemption is terminal on success and on expiry detection, even if the
// grant step that follows fails. An email mismatch leaves the invite live.
func (m *Manager) Redeem(ctx context.Context, secret, redeemerID, redeemerEmail string) (notes.Level, *Invite, error) {
	var invite Invite
	err := m.db.WithContext(ctx).
		Where("secret_hash = ?", hashSecret(secret)).
		Take(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.LevelNone, nil, ErrInviteInvalid
	}
	if err != nil {
		return notes.LevelNone, nil, err
	}

	if invite.Used {
		return notes.LevelNone, nil, ErrInviteUsed
	}

	now := m.clock().UTC()
	if invite.ExpiresAtSeconds > 0 && now.Unix() > invite.ExpiresAtSeconds {
		if err := m.markUsed(ctx, &invite, redeemerID, now); err != nil && !errors.Is(err, ErrInviteUsed) {
			return notes.LevelNone, nil, err
		}
		return notes.LevelNone, nil, ErrInviteExpired
	}

	if invite.Email != "" && invite.Email != strings.ToLower(strings.TrimSpace(redeemerEmail)) {
		return notes.LevelNone, nil, ErrInviteEmailMismatch
	}

	if err := m.markUsed(ctx, &invite, redeemerID, now); err != nil {
		return notes.LevelNone, nil, err
	}
	return notes.Level(invite.Level), &invite, nil
}

// markUsed flips the used flag with a guard against a concurrent redeemer.
func (m *Manager) markUsed(ctx context.Context, invite *Invite, redeemerID string, now time.Time) error {
	result := m.db.WithContext(ctx).Model(&Invite{}).
		Where("invite_id = ? AND used = ?", invite.InviteID, false).
		Updates(map[string]interface{}{
			"used":       true,
			"used_by_id": redeemerID,
			"used_at_s":  now.Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInviteUsed
	}
	invite.Used = true
	invite.UsedByID = redeemerID
	invite.UsedAtSeconds = now.Unix()
	return nil
}

func hashSecret(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}
