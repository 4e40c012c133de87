package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Subject string
	Roles   []string
}

type contextKey string

const principalContextKey contextKey = "rolegate.principal"

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenNotYet    = errors.New("token not yet valid")
	ErrIssuer         = errors.New("unexpected issuer")
	ErrAudience       = errors.New("unexpected audience")
)

type TokenClaims struct {
	Sub   string   `json:"sub"`
	Roles []string `json:"roles"`
	Iss   string   `json:"iss,omitempty"`
	Aud   any      `json:"aud,omitempty"`
	Exp   int64    `json:"exp"`
	Nbf   int64    `json:"nbf,omitempty"`
	Iat   int64    `json:"iat,omitempty"`
}

// Middleware authenticates bearer tokens. Mode "hs256" verifies HMAC-signed
// JWTs against secret; mode "off" admits everyone as anonymous and exists
// for local development only (main refuses it elsewhere).
func Middleware(mode, secret, issuer, audience string) func(http.Handler) http.Handler {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" || mode == "off" {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{Subject: "anonymous", Roles: []string{"anonymous"}})))
			})
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			token := strings.TrimSpace(header[len("Bearer "):])
			claims, err := VerifyHS256(token, secret, time.Now().UTC(), issuer, audience)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{
				Subject: claims.Sub,
				Roles:   claims.Roles,
			})))
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// HasAnyRole reports whether the principal holds at least one of the
// required roles. Comparison is case-insensitive.
func HasAnyRole(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	held := map[string]struct{}{}
	for _, r := range p.Roles {
		held[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[strings.ToLower(strings.TrimSpace(r))]; ok {
			return true
		}
	}
	return false
}

// VerifyHS256 validates a compact JWT signed with HMAC-SHA256.
func VerifyHS256(token, secret string, now time.Time, issuer, audience string) (TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return TokenClaims{}, ErrMalformedToken
	}
	signingInput := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return TokenClaims{}, ErrMalformedToken
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return TokenClaims{}, ErrBadSignature
	}
	rawClaims, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return TokenClaims{}, ErrMalformedToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(rawClaims, &claims); err != nil {
		return TokenClaims{}, ErrMalformedToken
	}
	if claims.Exp > 0 && now.Unix() >= claims.Exp {
		return TokenClaims{}, ErrTokenExpired
	}
	if claims.Nbf > 0 && now.Unix() < claims.Nbf {
		return TokenClaims{}, ErrTokenNotYet
	}
	if issuer != "" && claims.Iss != issuer {
		return TokenClaims{}, ErrIssuer
	}
	if audience != "" && !audienceMatches(claims.Aud, audience) {
		return TokenClaims{}, ErrAudience
	}
	return claims, nil
}

// SignHS256 mints a compact JWT; used by tests and local tooling.
func SignHS256(claims TokenClaims, secret string) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	signingInput := header + "." + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + sig, nil
}

func audienceMatches(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	}
	return false
}
