package core

import (
	"context"
	"crypto/rand"
	"fmt"
)

// RandomSource supplies the coin flip that breaks settlement ties when the
// refreshed price equals the open price. Injected so tests stay deterministic.
type RandomSource interface {
	Draw(ctx context.Context) (bool, error)
}

// CryptoRandomSource draws from crypto/rand.
type CryptoRandomSource struct{}

func NewCryptoRandomSource() *CryptoRandomSource {
	return &CryptoRandomSource{}
}

func (s *CryptoRandomSource) Draw(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false, fmt.Errorf("random draw: %w", err)
	}
	return b[0]&1 == 1, nil
}
