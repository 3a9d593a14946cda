package api

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	sessionIssuer  = "bashbook"
	sessionSubject = "door"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errInvalidPassword      = errors.New("invalid password")
)

// Gate checks the door password and validates the session tokens it issues.
// A Gate without a password is disabled: every request is let through.
type Gate struct {
	password []byte
	secret   []byte
	ttl      time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

// NewGate creates a Gate. An empty secret is replaced by random bytes, which
// invalidates sessions on restart.
func NewGate(password string, secret []byte, ttl time.Duration) *Gate {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("session secret: " + err.Error())
		}
	}
	return &Gate{
		password: []byte(password),
		secret:   secret,
		ttl:      ttl,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		now:      time.Now,
	}
}

func (g *Gate) Enabled() bool {
	return len(g.password) > 0
}

// Unlock compares password with the configured one and returns a signed
// session token on success.
func (g *Gate) Unlock(password string) (string, time.Time, error) {
	if subtle.ConstantTimeCompare([]byte(password), g.password) != 1 {
		return "", time.Time{}, errInvalidPassword
	}
	now := g.now()
	expires := now.Add(g.ttl)
	claims := jwt.MapClaims{
		"sub": sessionSubject,
		"iss": sessionIssuer,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// SubjectFromAuthHeader validates a "Bearer <token>" header.
func (g *Gate) SubjectFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}

	parsed, err := g.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return g.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if !claims.VerifyExpiresAt(g.now().Unix(), true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyIssuer(sessionIssuer, true) {
		return "", errors.New("invalid issuer")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
