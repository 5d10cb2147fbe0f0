package fhe

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
	"github.com/google/uuid"
)

// LocalService is an in-process encrypted value backend for development and
// tests. Real deployments talk to an external coprocessor; this backend
// stands in for it the way a mock FHE environment does.
//
// Values are sealed by adding a MiMC mask derived from a per-service secret
// and the handle ID. Arithmetic unseals internally, operates on plaintext,
// and reseals under a fresh handle, so no caller ever observes a plaintext
// except through DecryptFor.
type LocalService struct {
	mu     sync.RWMutex
	secret []byte
	values map[Handle]*sealedValue
}

type sealedValue struct {
	sealed *big.Int // plain + mask(secret, handle)
	owner  string
}

// NewLocalService creates a backend with a random service secret.
func NewLocalService() *LocalService {
	secret := make([]byte, 32)
	rand.Read(secret)
	return &LocalService{
		secret: secret,
		values: make(map[Handle]*sealedValue),
	}
}

// mask derives the additive MiMC mask for a handle.
func (s *LocalService) mask(h Handle) (*big.Int, error) {
	hash := mimcNative.NewMiMC()
	if err := absorb(hash, s.secret); err != nil {
		return nil, err
	}
	if err := absorb(hash, []byte(h)); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(hash.Sum(nil)), nil
}

func (s *LocalService) seal(owner string, plain *big.Int) (Handle, error) {
	h := Handle(uuid.NewString())
	m, err := s.mask(h)
	if err != nil {
		return "", err
	}
	s.values[h] = &sealedValue{sealed: new(big.Int).Add(plain, m), owner: owner}
	return h, nil
}

// unseal recovers the plaintext for internal arithmetic only.
func (s *LocalService) unseal(h Handle) (*big.Int, *sealedValue, error) {
	v, ok := s.values[h]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	m, err := s.mask(h)
	if err != nil {
		return nil, nil, err
	}
	return new(big.Int).Sub(v.sealed, m), v, nil
}

func (s *LocalService) Encrypt(owner string, plain uint64) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seal(owner, new(big.Int).SetUint64(plain))
}

func (s *LocalService) Add(a, b Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, va, err := s.unseal(a)
	if err != nil {
		return "", err
	}
	pb, _, err := s.unseal(b)
	if err != nil {
		return "", err
	}
	return s.seal(va.owner, new(big.Int).Add(pa, pb))
}

func (s *LocalService) Sub(a, b Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, va, err := s.unseal(a)
	if err != nil {
		return "", err
	}
	pb, _, err := s.unseal(b)
	if err != nil {
		return "", err
	}
	if pa.Cmp(pb) < 0 {
		return "", fmt.Errorf("subtraction would underflow sealed value")
	}
	return s.seal(va.owner, new(big.Int).Sub(pa, pb))
}

func (s *LocalService) CompareAtLeast(a Handle, plain uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pa, _, err := s.unseal(a)
	if err != nil {
		return false, err
	}
	return pa.Cmp(new(big.Int).SetUint64(plain)) >= 0, nil
}

func (s *LocalService) CompareAtLeastHandle(a, b Handle) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pa, _, err := s.unseal(a)
	if err != nil {
		return false, err
	}
	pb, _, err := s.unseal(b)
	if err != nil {
		return false, err
	}
	return pa.Cmp(pb) >= 0, nil
}

func (s *LocalService) DecryptFor(h Handle, requester string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plain, v, err := s.unseal(h)
	if err != nil {
		return 0, err
	}
	if v.owner != requester {
		return 0, fmt.Errorf("requester %s is not the owner of handle %s", requester, h)
	}
	return plain.Uint64(), nil
}

// Owner reports the account entitled to reveal a handle.
func (s *LocalService) Owner(h Handle) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[h]
	if !ok {
		return "", false
	}
	return v.owner, true
}

var (
	_ Service      = (*LocalService)(nil)
	_ Entitlements = (*LocalService)(nil)
)
