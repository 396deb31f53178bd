package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Service wraps repository operations with business logic
type Service struct {
	repo Repository
}

func NewService(r Repository) *Service { return &Service{repo: r} }

// CreateSession records a new token for the user and returns it; the
// session id becomes the token's jti.
func (s *Service) CreateSession(ctx context.Context, userID, name string, ttl time.Duration) (*Session, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:        hex.EncodeToString(b),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Validate returns the session if it exists and has not expired.
func (s *Service) Validate(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

// RevokeAll deletes every token of the user and reports how many were
// removed.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	return s.repo.DeleteAllForUser(ctx, userID)
}
