package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultEmailClaim    = "email"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		fallbackRole: RoleUser,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token. When roles are given the
// identity must hold at least one of them.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.authenticate(r)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalFirebaseAuth attaches an identity when a valid token is presented and lets
// anonymous requests through. A presented but invalid token is still rejected.
func (a *Authenticator) OptionalFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := a.authenticate(r)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

var (
	// ErrTokenExpired signals that the presented Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")

	errMissingToken = errors.New("authorization header missing or invalid")
	errNoVerifier   = errors.New("authorization service unavailable")
)

func (a *Authenticator) authenticate(r *http.Request) (*Identity, error) {
	tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, errMissingToken
	}
	if a == nil || a.verifier == nil {
		return nil, errNoVerifier
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		UID:   token.UID,
		Email: claimAsString(token.Claims, defaultEmailClaim),
		Roles: rolesFromClaims(token.Claims, a.roleClaim),
	}
	if verified, ok := token.Claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity, nil
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := "invalid_token", "firebase id token verification failed"
	switch {
	case errors.Is(err, errMissingToken):
		code, message = "unauthenticated", err.Error()
	case errors.Is(err, errNoVerifier):
		code, message = "unauthenticated", err.Error()
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		code, message = "token_expired", "firebase id token expired"
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusUnauthorized))
}

func rolesFromClaims(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				raw = append(raw, name)
			}
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, role := range raw {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
