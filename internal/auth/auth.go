// Package auth consumes identity tokens. The rest of the service only sees
// the Verifier capability: a token either yields a subject id and email or
// fails.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// Identity is the verified principal behind a token. Email may be empty
// when the issuer did not include one.
type Identity struct {
	SubjectID string
	Email     string
}

// Keys returns the identity keys this principal may be known by, subject
// id first. Notification settings and endpoint ownership may be recorded
// under either.
func (id *Identity) Keys() []string {
	var keys []string
	if id.SubjectID != "" {
		keys = append(keys, id.SubjectID)
	}
	if id.Email != "" && id.Email != id.SubjectID {
		keys = append(keys, id.Email)
	}
	return keys
}

// OwnerKey is the identity key recorded on endpoints created by this
// principal: the email when known, else the subject id.
func (id *Identity) OwnerKey() string {
	if id.Email != "" {
		return id.Email
	}
	return id.SubjectID
}

type Verifier interface {
	Verify(token string) (*Identity, error)
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens carrying a subject and an
// optional email claim.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &Identity{SubjectID: c.Subject, Email: c.Email}, nil
}

// Sign issues a token for an identity. Used by tooling and tests; the
// production issuer is external.
func (v *JWTVerifier) Sign(id *Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
