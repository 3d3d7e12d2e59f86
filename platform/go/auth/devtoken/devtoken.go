// Package devtoken builds unsigned Firebase-shaped JWTs for local
// development. The API accepts them only through UnsignedTokenVerifier, which
// is never enabled in production configurations.
package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
)

// Params describes the claims stamped into a dev token.
type Params struct {
	ProjectID string
	UserID    string
	Email     string
	Name      string
	Role      platformauth.Role
	TenantID  string
	ExpiresIn time.Duration
	Audience  string
	Issuer    string
}

// BuildUnsignedToken produces a header.payload. JWT with alg "none". The
// claim names mirror what the Firebase verifier produces, so the same
// credential extractor serves both providers.
func BuildUnsignedToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("user id is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}
	if p.Role != "" {
		if _, err := platformauth.ParseRole(string(p.Role)); err != nil {
			return "", err
		}
	}

	expiresIn := p.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	issuer := p.Issuer
	if issuer == "" {
		issuer = "https://securetoken.google.com/" + p.ProjectID
	}
	audience := p.Audience
	if audience == "" {
		audience = p.ProjectID
	}

	claims := map[string]any{
		"iss":       issuer,
		"aud":       audience,
		"sub":       p.UserID,
		"uid":       p.UserID,
		"user_id":   p.UserID,
		"email":     p.Email,
		"iat":       now.Unix(),
		"auth_time": now.Unix(),
		"exp":       now.Add(expiresIn).Unix(),
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if p.Role != "" {
		claims["role"] = string(p.Role)
	}
	if p.TenantID != "" {
		claims["tenantId"] = p.TenantID
		claims["firebase"] = map[string]any{
			"tenant":           p.TenantID,
			"sign_in_provider": "password",
		}
	}

	header, err := encodeSegment(map[string]any{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	payload, err := encodeSegment(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}

	return header + "." + payload + ".", nil
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
