// Package auth issues and validates short-lived, room-scoped capability
// tokens. Tokens gate signaling sessions; authoritative room membership
// lives in the room manager.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrUserMismatch      = errors.New("token user mismatch")
	ErrRoomMismatch      = errors.New("token room mismatch")
	ErrSignatureMismatch = errors.New("token signature mismatch")
)

// Token is a room-scoped capability, immutable once issued and bound to
// exactly one (userId, roomId) pair.
type Token struct {
	UserID    string
	RoomID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature string
}

// Manager stores issued tokens keyed by their opaque token string.
// Expiry is checked lazily on lookup, so work is bounded to tokens
// actually used.
type Manager struct {
	mu     sync.Mutex
	tokens map[string]Token

	secret string
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
}

func NewManager(secret string, ttl time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		tokens: make(map[string]Token),
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
		log:    log,
	}
}

// SetClock overrides the manager's time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// GenerateToken issues a token for the given (userId, roomId) pair and
// returns the opaque token string.
func (m *Manager) GenerateToken(userID, roomID string) (string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issued := m.now()
	expires := issued.Add(m.ttl)
	key := uuid.New().String()

	m.tokens[key] = Token{
		UserID:    userID,
		RoomID:    roomID,
		IssuedAt:  issued,
		ExpiresAt: expires,
		Signature: m.sign(userID, roomID),
	}

	m.log.Debug("token issued",
		zap.String("userId", userID),
		zap.String("roomId", roomID),
		zap.Time("expiresAt", expires))

	return key, expires
}

// ValidateCredentials checks a presented token against the claimed
// (userId, roomId) pair. Checks run in a strict order and the first
// failure short-circuits; an expired token is removed on lookup so a
// retry with the same string reports ErrInvalidToken.
func (m *Manager) ValidateCredentials(userID, roomID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tokens[token]
	if !ok {
		return ErrInvalidToken
	}
	if m.now().After(stored.ExpiresAt) {
		delete(m.tokens, token)
		return ErrTokenExpired
	}
	if stored.UserID != userID {
		return ErrUserMismatch
	}
	if stored.RoomID != roomID {
		return ErrRoomMismatch
	}
	if m.sign(stored.UserID, stored.RoomID) != stored.Signature {
		return ErrSignatureMismatch
	}
	return nil
}

// InvalidateToken removes a token. Removing an unknown token is a no-op.
func (m *Manager) InvalidateToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

// RoomUsers returns the user ids holding live tokens for a room. This is
// advisory presence only; the room manager owns authoritative membership.
func (m *Manager) RoomUsers(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var users []string
	for key, tok := range m.tokens {
		if now.After(tok.ExpiresAt) {
			delete(m.tokens, key)
			continue
		}
		if tok.RoomID == roomID {
			users = append(users, tok.UserID)
		}
	}
	return users
}

// sign computes the token signature. This is a keyed digest over the
// bound identity, used to detect tampering of stored entries, not to
// authenticate the bearer cryptographically.
func (m *Manager) sign(userID, roomID string) string {
	sum := sha256.Sum256([]byte(userID + ":" + roomID + ":" + m.secret))
	return hex.EncodeToString(sum[:])
}
