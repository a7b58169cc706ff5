// Package auth issues and verifies session credentials. Secrets are
// high-entropy random values; verification is constant-time and reveals
// nothing about which check failed.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

// SecretBytes is the entropy of a session secret; hex-encoded it is 64
// characters.
const SecretBytes = 32

// Credentials is what register returns to the operator: one opaque secret per
// side. Secrets are never shown again after issuance.
type Credentials struct {
	ConversationID string
	SecretA        string
	SecretB        string
	ExpiresAt      time.Time
}

type Authenticator struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

func New(st store.Store, ttl time.Duration) *Authenticator {
	return &Authenticator{
		store: st,
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the authenticator's clock. Test hook.
func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// Register creates a conversation between two named roles and mints one
// secret per side.
func (a *Authenticator) Register(ctx context.Context, roleA, roleB string) (*Credentials, error) {
	if roleA == "" || roleB == "" {
		return nil, kkErrors.InvalidInput("both roles are required")
	}

	now := a.now()
	secretA, err := newSecret()
	if err != nil {
		return nil, err
	}
	secretB, err := newSecret()
	if err != nil {
		return nil, err
	}

	conv := &store.Conversation{
		ID:        ulid.Make().String(),
		RoleA:     roleA,
		RoleB:     roleB,
		SecretA:   secretA,
		SecretB:   secretB,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return nil, kkErrors.Wrap(err, "create conversation")
	}

	return &Credentials{
		ConversationID: conv.ID,
		SecretA:        secretA,
		SecretB:        secretB,
		ExpiresAt:      conv.ExpiresAt,
	}, nil
}

// Verify checks a presented secret against the stored one for the side.
// Missing conversations still burn a comparison so the caller cannot time the
// difference between "unknown id" and "wrong secret".
func (a *Authenticator) Verify(ctx context.Context, convID, side, secret string) (*store.Conversation, error) {
	if side != store.SideA && side != store.SideB {
		return nil, kkErrors.InvalidInput(fmt.Sprintf("unknown side %q", side))
	}

	conv, err := a.store.GetConversation(ctx, convID)
	if err != nil {
		subtle.ConstantTimeCompare([]byte(secret), []byte(dummySecret))
		return nil, kkErrors.Auth("verify session")
	}

	expected := conv.SecretA
	if side == store.SideB {
		expected = conv.SecretB
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(expected)) != 1 {
		return nil, kkErrors.Auth("verify session")
	}

	if conv.Expired(a.now()) {
		return nil, fmt.Errorf("conversation %s: %w", convID, kkErrors.ErrConversationExpired)
	}
	return conv, nil
}

// dummySecret keeps the failure path's comparison cost identical to the
// success path's.
const dummySecret = "0000000000000000000000000000000000000000000000000000000000000000"

func newSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", kkErrors.Wrap(err, "generate secret")
	}
	return hex.EncodeToString(buf), nil
}
