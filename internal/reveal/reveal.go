package reveal

import (
	"errors"
	"fmt"
	"time"

	"secretinvest/internal/fhe"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("requester is not entitled to this handle")

// ValueService is the slice of the encrypted value service the reveal path
// needs: entitlement lookup and owner-gated decryption. Reveals are strictly
// read-only.
type ValueService interface {
	Owner(h fhe.Handle) (string, bool)
	DecryptFor(h fhe.Handle, requester string) (uint64, error)
}

type revealClaims struct {
	jwt.RegisteredClaims
	Handles []string `json:"handles"`
}

// Authorizer grants plaintext reveals of ciphertext handles against signed
// HS256 tokens. A token names the requester (subject) and the handles it
// covers; the handle's entitlement is checked on top of the token.
type Authorizer struct {
	secret []byte
	svc    ValueService
}

func NewAuthorizer(secret []byte, svc ValueService) *Authorizer {
	return &Authorizer{
		secret: secret,
		svc:    svc,
	}
}

// IssueToken mints a reveal token for a requester covering the given handles.
func (a *Authorizer) IssueToken(requester string, handles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := revealClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requester,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Handles: handles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign reveal token: %w", err)
	}
	return signed, nil
}

// RequestReveal decrypts a handle for a requester holding a valid token.
// The token must be signed, unexpired, issued to the requester, and must
// cover the handle; the handle must exist and be owned by the requester.
func (a *Authorizer) RequestReveal(tokenString, requester string, h fhe.Handle) (uint64, error) {
	var claims revealClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("reveal token: %v: %w", err, ErrUnauthorized)
	}

	if claims.Subject != requester {
		return 0, fmt.Errorf("token issued to %q: %w", claims.Subject, ErrUnauthorized)
	}

	covered := false
	for _, th := range claims.Handles {
		if th == string(h) {
			covered = true
			break
		}
	}
	if !covered {
		return 0, fmt.Errorf("token does not cover handle: %w", ErrUnauthorized)
	}

	owner, ok := a.svc.Owner(h)
	if !ok {
		return 0, fhe.ErrUnknownHandle
	}
	if owner != requester {
		return 0, fmt.Errorf("handle owned by another account: %w", ErrUnauthorized)
	}

	return a.svc.DecryptFor(h, requester)
}
