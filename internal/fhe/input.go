package fhe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// EncryptedInput is a bundle of externally produced ciphertexts plus a proof
// binding them to a specific caller and ledger instance. The binding prevents
// replaying another account's ciphertext or reusing an input prepared for a
// different contract.
type EncryptedInput struct {
	Ciphertexts [][]byte
	Proof       []byte
}

// absorb feeds data into the MiMC sponge in field-safe blocks. The hash only
// accepts whole BlockSize blocks that decode below the field modulus, so each
// input is framed as a length block followed by chunks of at most BlockSize-1
// bytes, left-padded to a full block. The padding keeps the top byte zero,
// which makes every block a valid field element regardless of input length,
// and the length frame keeps distinct input sequences distinct.
func absorb(w io.Writer, data []byte) error {
	var block [mimcNative.BlockSize]byte
	binary.BigEndian.PutUint64(block[mimcNative.BlockSize-8:], uint64(len(data)))
	if _, err := w.Write(block[:]); err != nil {
		return err
	}
	for start := 0; start < len(data); start += mimcNative.BlockSize - 1 {
		end := start + mimcNative.BlockSize - 1
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		clear(block[:])
		copy(block[mimcNative.BlockSize-len(chunk):], chunk)
		if _, err := w.Write(block[:]); err != nil {
			return err
		}
	}
	return nil
}

// bindingDigest computes MiMC over ct_0 .. ct_n, caller and contract, each
// framed individually so ciphertext boundaries commit into the digest.
func bindingDigest(cts [][]byte, caller, contract string) ([]byte, error) {
	h := mimcNative.NewMiMC()
	for _, ct := range cts {
		if err := absorb(h, ct); err != nil {
			return nil, err
		}
	}
	if err := absorb(h, []byte(caller)); err != nil {
		return nil, err
	}
	if err := absorb(h, []byte(contract)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// contextTag commits to the ledger instance the input was prepared for.
func contextTag(contract string) ([]byte, error) {
	h := mimcNative.NewMiMC()
	if err := absorb(h, []byte(contract)); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// EncryptInput seals plaintext values for owner and produces the input bundle
// a caller submits to the ledger. This is the client half of the admission
// flow; in production it runs inside the caller's wallet tooling against the
// external coprocessor.
func (s *LocalService) EncryptInput(owner, contract string, plains ...uint64) (*EncryptedInput, error) {
	cts := make([][]byte, 0, len(plains))
	for _, p := range plains {
		h, err := s.Encrypt(owner, p)
		if err != nil {
			return nil, err
		}
		cts = append(cts, []byte(h))
	}

	tag, err := contextTag(contract)
	if err != nil {
		return nil, err
	}
	digest, err := bindingDigest(cts, owner, contract)
	if err != nil {
		return nil, err
	}
	return &EncryptedInput{Ciphertexts: cts, Proof: append(tag, digest...)}, nil
}

// InputValidator admits externally supplied ciphertexts into the ledger.
// Pure validation: it never mutates backend or ledger state.
type InputValidator struct {
	svc      Entitlements
	contract string
}

func NewInputValidator(svc Entitlements, contract string) *InputValidator {
	return &InputValidator{svc: svc, contract: contract}
}

// Admit verifies the proof binds every ciphertext to caller and to this
// ledger instance, and returns usable handles. A proof prepared for another
// ledger fails with ErrStaleBinding; any other mismatch (wrong caller,
// tampered ciphertext, foreign handle) fails with ErrInvalidProof.
func (v *InputValidator) Admit(raws [][]byte, proof []byte, caller string) ([]Handle, error) {
	tag, err := contextTag(v.contract)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if len(proof) != len(tag)*2 {
		return nil, fmt.Errorf("%w: malformed proof (%d bytes)", ErrInvalidProof, len(proof))
	}

	if !bytes.Equal(proof[:len(tag)], tag) {
		return nil, fmt.Errorf("%w: context tag mismatch", ErrStaleBinding)
	}

	digest, err := bindingDigest(raws, caller, v.contract)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !bytes.Equal(proof[len(tag):], digest) {
		return nil, fmt.Errorf("%w: binding digest mismatch", ErrInvalidProof)
	}

	handles := make([]Handle, 0, len(raws))
	for _, raw := range raws {
		h := Handle(raw)
		owner, ok := v.svc.Owner(h)
		if !ok {
			return nil, fmt.Errorf("%w: ciphertext not registered with backend", ErrInvalidProof)
		}
		if owner != caller {
			return nil, fmt.Errorf("%w: ciphertext owned by another account", ErrInvalidProof)
		}
		handles = append(handles, h)
	}

	return handles, nil
}
