// Package token implements the two-tier bearer-credential authority:
// long-lived access tokens authenticate a session, short-lived query
// tokens authorize individual queries within it. Both tiers live in an
// expiring key-value store shared by the gateway and the query server.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

const (
	// AccessTokenTTL bounds an authenticated session.
	AccessTokenTTL = 3600 * time.Second

	// QueryTokenTTL bounds a single authorized query.
	QueryTokenTTL = 600 * time.Second

	// tokenBytes is the entropy per token; hex-encoded this yields a
	// 64-character credential.
	tokenBytes = 32

	// bindingSeparator splits the access token from the query
	// fingerprint inside a stored query-token value.
	bindingSeparator = "|"
)

// ErrUnauthorized is returned when an operation requires a valid token
// the caller does not hold.
var ErrUnauthorized = errors.New("token: invalid or expired token")

// Manager mints, validates and revokes both token tiers.
type Manager struct {
	store Store
	log   *logrus.Logger
}

// NewManager builds an authority over the given store.
func NewManager(store Store, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{store: store, log: log}
}

// newToken draws 32 bytes from the CSPRNG, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: drawing randomness: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// queryFingerprint hashes a query payload for binding into the stored
// query-token value, so a token minted for one query cannot authorize a
// different one.
func queryFingerprint(query string) string {
	return hex.EncodeToString(ethcrypto.Keccak256([]byte(query)))
}

// MintAccess issues an access token for a user and stores the mapping
// token -> user for AccessTokenTTL.
func (m *Manager) MintAccess(ctx context.Context, userID string) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, tok, userID, AccessTokenTTL); err != nil {
		return "", err
	}
	m.log.WithField("user_id", userID).Info("access token minted")
	return tok, nil
}

// ValidateAccess reports whether the access token is live in the store.
func (m *Manager) ValidateAccess(ctx context.Context, tok string) (bool, error) {
	if tok == "" {
		return false, nil
	}
	_, ok, err := m.store.Get(ctx, tok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// MintQuery issues a query token under a valid access token. The stored
// value binds the access token and, when a payload is supplied, its
// fingerprint; the mapping lives for QueryTokenTTL.
func (m *Manager) MintQuery(ctx context.Context, accessTok, query string) (string, error) {
	ok, err := m.ValidateAccess(ctx, accessTok)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnauthorized
	}

	tok, err := newToken()
	if err != nil {
		return "", err
	}

	value := accessTok
	if query != "" {
		value = accessTok + bindingSeparator + queryFingerprint(query)
	}
	if err := m.store.Set(ctx, tok, value, QueryTokenTTL); err != nil {
		return "", err
	}
	return tok, nil
}

// ValidateQuery reports whether queryTok was minted under accessTok and
// is still live. When the stored value carries a payload fingerprint
// and the caller supplies a payload, the fingerprints must match too.
func (m *Manager) ValidateQuery(ctx context.Context, accessTok, queryTok, query string) (bool, error) {
	if accessTok == "" || queryTok == "" {
		return false, nil
	}
	value, ok, err := m.store.Get(ctx, queryTok)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	boundAccess, fingerprint, bound := strings.Cut(value, bindingSeparator)
	if boundAccess != accessTok {
		return false, nil
	}
	if bound && query != "" && fingerprint != queryFingerprint(query) {
		return false, nil
	}
	return true, nil
}

// RevokeAccessForUser removes every access token mapped to the user.
func (m *Manager) RevokeAccessForUser(ctx context.Context, userID string) error {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return err
	}
	var doomed []string
	for _, k := range keys {
		value, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return err
		}
		if ok && value == userID {
			doomed = append(doomed, k)
		}
	}
	if err := m.store.Del(ctx, doomed...); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"user_id": userID,
		"revoked": len(doomed),
	}).Info("access tokens revoked")
	return nil
}

// RevokeQuery removes a single query token.
func (m *Manager) RevokeQuery(ctx context.Context, queryTok string) error {
	return m.store.Del(ctx, queryTok)
}

// ListActive returns the live token entries, keyed by token.
func (m *Manager) ListActive(ctx context.Context) (map[string]string, error) {
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		value, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = value
		}
	}
	return out, nil
}

// Ping verifies the backing store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
