package fhe

import "errors"

// Handle is an opaque reference to a ciphertext held by the encrypted value
// service. The ledger requests arithmetic and comparisons on handles without
// ever seeing the plaintext.
type Handle string

// Sentinel errors for the encrypted value boundary.
var (
	ErrUnknownHandle = errors.New("unknown ciphertext handle")
	ErrInvalidProof  = errors.New("invalid input proof")
	ErrStaleBinding  = errors.New("input proof bound to a different ledger instance")
)

// Service is the capability surface of the encrypted value backend.
// The fixed method set lets the engine stay oblivious to the concrete
// cryptographic backend: encrypt, add, sub, compare-at-least, decrypt-for.
// Anything richer (scalar multiplication, equality) is composed from these
// by the caller.
type Service interface {
	// Encrypt seals a plaintext value for the given owner and returns a
	// fresh handle. The owner is the only account entitled to reveal it.
	Encrypt(owner string, plain uint64) (Handle, error)

	// Add returns a handle to a+b. The result is owned by a's owner.
	Add(a, b Handle) (Handle, error)

	// Sub returns a handle to a-b. Callers must establish a >= b via
	// CompareAtLeast first; the backend rejects an underflowing subtraction
	// so a balance can never be driven provably negative.
	Sub(a, b Handle) (Handle, error)

	// CompareAtLeast reports whether the sealed value of a is >= plain.
	CompareAtLeast(a Handle, plain uint64) (bool, error)

	// CompareAtLeastHandle reports whether the sealed value of a is >= the
	// sealed value of b.
	CompareAtLeastHandle(a, b Handle) (bool, error)

	// DecryptFor reveals the plaintext behind h to requester. Fails unless
	// requester is the handle's owner. Never mutates the handle.
	DecryptFor(h Handle, requester string) (uint64, error)
}

// Entitlements answers ownership questions about handles. The reveal
// adapter uses it to decide entitlement without decrypting anything.
type Entitlements interface {
	Owner(h Handle) (string, bool)
}
