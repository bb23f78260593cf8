package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluquist/bluquist/internal"
)

// DefaultTTL is the sliding idle window applied at login and on every renewal.
const DefaultTTL = 30 * time.Minute

const defaultTokenAttempts = 3

var (
	// ErrNotFound is returned by LookupSession when no record exists for the
	// token, including records the store has already expired.
	ErrNotFound = errors.New("session not found")

	// ErrTokenExhausted is returned when every generated token collided with a
	// live record.
	ErrTokenExhausted = errors.New("session token generation exhausted")
)

// Backend is the subset of a key-value collection the store needs.
// *kvstore.Adapter satisfies it.
type Backend interface {
	Set(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dst any) (bool, error)
	Unset(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, at time.Time) error
	Replace(ctx context.Context, key string, value any, at time.Time) (bool, error)
}

// TokenSource produces a fresh opaque session token.
type TokenSource func() (string, error)

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenSource overrides the random token generator.
func WithTokenSource(src TokenSource) Option {
	return func(s *Store) {
		if src != nil {
			s.tokens = src
		}
	}
}

// WithTokenAttempts bounds how many tokens StartSession draws before giving up.
func WithTokenAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// Store owns the session record lifecycle on top of a shared collection. It
// keeps no session state in process.
type Store struct {
	kv       Backend
	ttl      time.Duration
	now      func() time.Time
	tokens   TokenSource
	attempts int
}

// NewStore returns a Store writing to kv. A non-positive ttl falls back to
// DefaultTTL.
func NewStore(kv Backend, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		kv:       kv,
		ttl:      ttl,
		now:      time.Now,
		tokens:   randomToken,
		attempts: defaultTokenAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomToken() (string, error) {
	tok, err := internal.NewSessionToken()
	if err != nil {
		return "", err
	}
	return tok.String(), nil
}

// TTL returns the sliding window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// StartSession creates a session expiring ttl from now, stores it and
// schedules its removal in the backing store. It returns the new token.
func (s *Store) StartSession(ctx context.Context, userID, role, clientIP string) (string, error) {
	sess, err := s.newSession(ctx, userID, role, clientIP)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, sess.Token, sess); err != nil {
		return "", err
	}
	if err := s.kv.Expire(ctx, sess.Token, sess.ExpireDate); err != nil {
		return "", err
	}
	return sess.Token, nil
}

func (s *Store) newSession(ctx context.Context, userID, role, clientIP string) (*Session, error) {
	for i := 0; i < s.attempts; i++ {
		token, err := s.tokens()
		if err != nil {
			return nil, fmt.Errorf("session: generate token: %w", err)
		}

		var existing Session
		taken, err := s.kv.Get(ctx, token, &existing)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		return &Session{
			Token:      token,
			UserID:     userID,
			Role:       role,
			ClientIP:   clientIP,
			ExpireDate: s.now().Add(s.ttl),
		}, nil
	}
	return nil, ErrTokenExhausted
}

// LookupSession reads the record stored under token.
func (s *Store) LookupSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	var sess Session
	ok, err := s.kv.Get(ctx, token, &sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// PersistSession rewrites the full record under its token and reschedules
// store expiry at its ExpireDate. It returns ErrNotFound when the record was
// destroyed or expired in the meantime; the record is not recreated.
func (s *Store) PersistSession(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Token == "" {
		return errors.New("session: persist requires a token")
	}
	ok, err := s.kv.Replace(ctx, sess.Token, sess, sess.ExpireDate)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DestroySession removes the record. Destroying an absent token is a no-op.
func (s *Store) DestroySession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.kv.Unset(ctx, token)
}
