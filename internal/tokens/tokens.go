package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/internal/models"
	"github.com/gogotex/collabdocs/internal/sessions"
	"github.com/gogotex/collabdocs/pkg/middleware"
	"github.com/golang-jwt/jwt/v5"
)

var ErrRevoked = errors.New("token has been revoked")

// GenerateAccessToken creates a signed JWT access token for the user. jti
// is the id of the session that keeps the token valid.
func GenerateAccessToken(cfg *config.Config, u *models.User, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"name":  u.Name,
		"email": u.Email,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(cfg.JWT.Secret))
}

// Issue records a session for u and returns a token bound to it.
func Issue(ctx context.Context, cfg *config.Config, s *sessions.Service, u *models.User) (string, error) {
	ttl := cfg.JWT.AccessTokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	sess, err := s.CreateSession(ctx, u.ID, u.Name, ttl)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return GenerateAccessToken(cfg, u, sess.ID, ttl)
}

type claimsToken struct {
	claims jwt.MapClaims
}

func (t *claimsToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.claims
		return nil
	}
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Verifier accepts HS256 tokens whose session is still present in the
// token store.
type Verifier struct {
	secret   []byte
	sessions *sessions.Service
}

func NewVerifier(secret string, s *sessions.Service) *Verifier {
	return &Verifier{secret: []byte(secret), sessions: s}
}

func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	jti, _ := claims["jti"].(string)
	sess, err := v.sessions.Validate(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	if sess == nil {
		return nil, ErrRevoked
	}
	if sub, _ := claims["sub"].(string); sub != sess.UserID {
		return nil, ErrRevoked
	}
	return &claimsToken{claims: claims}, nil
}
