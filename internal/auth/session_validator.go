package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
)

const (
	defaultSessionCookieName = "aasharing_session"
	defaultQueryParameter    = "access_token"
	bearerPrefix             = "Bearer "
)

var (
	ErrMissingSessionTokens = errors.New("session validator: token validator required")
	ErrMissingSessionToken  = errors.New("session validator: token required")
	ErrInvalidSessionToken  = errors.New("session validator: invalid token")
	ErrExpiredSessionToken  = errors.New("session validator: token expired")
)

// SessionClaims identifies the wallet behind an authenticated request.
type SessionClaims struct {
	Address chain.Address
}

// BackendTokenValidator checks backend JWTs.
type BackendTokenValidator interface {
	ValidateToken(token string) (chain.Address, error)
}

// SessionValidatorConfig describes where request credentials may be found.
type SessionValidatorConfig struct {
	Tokens         BackendTokenValidator
	CookieName     string
	QueryParameter string
}

// SessionValidator extracts a backend token from a request (Authorization header, cookie,
// or query parameter for EventSource clients) and validates it.
type SessionValidator struct {
	tokens         BackendTokenValidator
	cookieName     string
	queryParameter string
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if cfg.Tokens == nil {
		return nil, ErrMissingSessionTokens
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookieName
	}
	queryParameter := strings.TrimSpace(cfg.QueryParameter)
	if queryParameter == "" {
		queryParameter = defaultQueryParameter
	}
	return &SessionValidator{
		tokens:         cfg.Tokens,
		cookieName:     cookieName,
		queryParameter: queryParameter,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the session claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	address, err := v.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, errors.Join(ErrInvalidSessionToken, err)
	}
	return SessionClaims{Address: address}, nil
}

// ValidateRequest extracts the session token from r and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return SessionClaims{}, ErrInvalidSessionToken
		}
		return v.ValidateToken(strings.TrimPrefix(header, bearerPrefix))
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil {
		return v.ValidateToken(cookie.Value)
	}
	return v.ValidateToken(r.URL.Query().Get(v.queryParameter))
}
