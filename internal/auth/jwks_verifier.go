package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mindtune/api/internal/config"
)

// TokenVerifier checks a bearer token and resolves the caller behind it
type TokenVerifier interface {
	Verify(tokenString string) (Principal, error)
	Close() error
}

// Claims is the part of a Zitadel access token the API reads. Roles arrive
// either as a flat list or as Zitadel project role grants keyed by role.
type Claims struct {
	UserID            string                     `json:"sub"`
	Email             string                     `json:"email,omitempty"`
	Name              string                     `json:"name,omitempty"`
	PreferredUsername string                     `json:"preferred_username,omitempty"`
	Roles             []string                   `json:"roles,omitempty"`
	ProjectRoles      map[string]json.RawMessage `json:"urn:zitadel:iam:org:project:roles,omitempty"`
	jwt.RegisteredClaims
}

var errNoSubject = errors.New("token has no subject")

// JWKSVerifier verifies tokens against the issuer's published key set
type JWKSVerifier struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier discovers the issuer's key set and keeps it refreshed
func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("zitadel issuer is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jwksURL, err := discoverJWKSURL(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return newJWKSVerifier(keys.Keyfunc, cfg.Issuer, cfg.ClientID), nil
}

func newJWKSVerifier(keyFunc jwt.Keyfunc, issuer, audience string) *JWKSVerifier {
	return &JWKSVerifier{
		keyFunc:  keyFunc,
		issuer:   issuer,
		audience: audience,
	}
}

func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	discoveryURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("jwks_uri not found in discovery document")
	}

	return doc.JWKSURI, nil
}

// Verify checks signature, issuer, expiry and, when configured, audience,
// then maps the token onto a patient or counselor principal.
func (v *JWKSVerifier) Verify(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == "" {
		return Principal{}, errNoSubject
	}

	return v.principal(&claims), nil
}

// principal prefers the display name and grants the counselor role if any
// listed or project role names one
func (v *JWKSVerifier) principal(c *Claims) Principal {
	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}

	roles := slices.Clone(c.Roles)
	for grant := range c.ProjectRoles {
		roles = append(roles, grant)
	}

	return Principal{
		UserID: c.UserID,
		Email:  c.Email,
		Name:   name,
		Role:   roleFromList(roles),
	}
}

// Close is a no-op; the key set refresh goroutine ends with the process
func (v *JWKSVerifier) Close() error {
	return nil
}
