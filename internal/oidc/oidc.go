package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/pkg/middleware"
)

// Verifier accepts ID tokens issued by the configured Keycloak realm.
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// IssuerURL returns "<url>/realms/<realm>", or "" when Keycloak is not
// configured.
func IssuerURL(cfg config.KeycloakConfig) string {
	if cfg.URL == "" || cfg.Realm == "" {
		return ""
	}
	return strings.TrimRight(cfg.URL, "/") + "/realms/" + cfg.Realm
}

// NewVerifier discovers the realm's provider metadata.
func NewVerifier(ctx context.Context, cfg config.KeycloakConfig) (*Verifier, error) {
	issuer := IssuerURL(cfg)
	if issuer == "" {
		return nil, fmt.Errorf("keycloak is not configured")
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return &Verifier{provider: provider, verifier: verifier}, nil
}

// Verify verifies the raw ID token; *oidc.IDToken satisfies middleware.Token.
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}
