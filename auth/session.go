// Package auth issues and verifies the signed session tokens handed to the
// browser after the Google consent flow completes.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession covers every verification failure: bad signature, expired,
// malformed. Callers map it to a 401.
var ErrInvalidSession = errors.New("invalid session")

// Session identifies a signed-in user.
type Session struct {
	UserID string
	Email  string
}

// Issuer signs and verifies session JWTs with an HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an Issuer. ttl <= 0 defaults to 24h. An empty secret is
// replaced with a random per-boot one, so unsigned forgeries never verify;
// sessions then do not survive a restart.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("generate session secret: %v", err))
		}
	}
	return &Issuer{secret: key, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the session.
func (i *Issuer) Issue(s Session) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   s.UserID,
		"email": s.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(i.ttl).Unix(),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the session it carries.
func (i *Issuer) Verify(tokenString string) (*Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidSession
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" {
		return nil, ErrInvalidSession
	}
	return &Session{UserID: sub, Email: email}, nil
}
