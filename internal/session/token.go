// Package session issues and verifies the opaque session tokens that bind
// an anonymous participant to one chat room across reconnects.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token body. RegisteredClaims.ID is the session uuid used
// as the redis binding key.
type Claims struct {
	RoomID string `json:"rid"`
	jwt.RegisteredClaims
}

// SessionID returns the session uuid carried by the token.
func (c Claims) SessionID() string { return c.ID }

// Issuer signs HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. A zero ttl issues tokens without expiry.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// NewSessionID mints the id of a fresh membership.
func NewSessionID() string { return uuid.NewString() }

// Issue signs a token binding sessionID to roomID.
func (i *Issuer) Issue(sessionID, roomID string) (token string, claims Claims, err error) {
	now := i.now()
	claims = Claims{
		RoomID: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       sessionID,
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, claims, nil
}

// Parse verifies the signature, issuer and expiry of token. Every failure
// is reported as errorx.ErrSessionInvalid.
func (i *Issuer) Parse(token string) (Claims, error) {
	if token == "" {
		return Claims{}, errorx.New(errorx.KindSessionInvalid, "empty session token")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, errorx.Wrap(err, errorx.KindSessionInvalid, "session token expired")
		}
		return Claims{}, errorx.Wrap(err, errorx.KindSessionInvalid, "invalid session token")
	}
	if claims.ID == "" || claims.RoomID == "" {
		return Claims{}, errorx.New(errorx.KindSessionInvalid, "session token lacks session or room")
	}
	return claims, nil
}
