package reveal_test

import (
	"errors"
	"testing"
	"time"

	"secretinvest/internal/fhe"
	"secretinvest/internal/reveal"
)

var secret = []byte("test-reveal-secret")

// ============================================================================
// Test: RequestReveal
// ============================================================================

func TestRequestReveal_Grants(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	h, _ := svc.Encrypt("0xalice", 42)
	token, err := auth.IssueToken("0xalice", []string{string(h)}, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	plain, err := auth.RequestReveal(token, "0xalice", h)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if plain != 42 {
		t.Errorf("got %d, want 42", plain)
	}
}

func TestRequestReveal_IsReadOnly(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	h, _ := svc.Encrypt("0xalice", 42)
	token, _ := auth.IssueToken("0xalice", []string{string(h)}, time.Minute)

	first, err := auth.RequestReveal(token, "0xalice", h)
	if err != nil {
		t.Fatalf("first reveal: %v", err)
	}
	second, err := auth.RequestReveal(token, "0xalice", h)
	if err != nil {
		t.Fatalf("second reveal: %v", err)
	}
	if first != second {
		t.Errorf("reveal mutated the handle: %d != %d", first, second)
	}
}

func TestRequestReveal_WrongRequester_Unauthorized(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	h, _ := svc.Encrypt("0xalice", 42)
	token, _ := auth.IssueToken("0xalice", []string{string(h)}, time.Minute)

	_, err := auth.RequestReveal(token, "0xbob", h)
	if !errors.Is(err, reveal.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRequestReveal_ForeignHandle_Unauthorized(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	// Bob holds a valid token naming Alice's handle, but the entitlement
	// check still rejects him.
	h, _ := svc.Encrypt("0xalice", 42)
	token, _ := auth.IssueToken("0xbob", []string{string(h)}, time.Minute)

	_, err := auth.RequestReveal(token, "0xbob", h)
	if !errors.Is(err, reveal.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRequestReveal_UncoveredHandle_Unauthorized(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	h, _ := svc.Encrypt("0xalice", 42)
	other, _ := svc.Encrypt("0xalice", 7)
	token, _ := auth.IssueToken("0xalice", []string{string(other)}, time.Minute)

	_, err := auth.RequestReveal(token, "0xalice", h)
	if !errors.Is(err, reveal.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRequestReveal_UnknownHandle(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	token, _ := auth.IssueToken("0xalice", []string{"nope"}, time.Minute)

	_, err := auth.RequestReveal(token, "0xalice", fhe.Handle("nope"))
	if !errors.Is(err, fhe.ErrUnknownHandle) {
		t.Errorf("got %v, want ErrUnknownHandle", err)
	}
}

func TestRequestReveal_ExpiredToken_Unauthorized(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)

	h, _ := svc.Encrypt("0xalice", 42)
	token, _ := auth.IssueToken("0xalice", []string{string(h)}, -time.Minute)

	_, err := auth.RequestReveal(token, "0xalice", h)
	if !errors.Is(err, reveal.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRequestReveal_ForgedToken_Unauthorized(t *testing.T) {
	svc := fhe.NewLocalService()
	auth := reveal.NewAuthorizer(secret, svc)
	forger := reveal.NewAuthorizer([]byte("other-secret"), svc)

	h, _ := svc.Encrypt("0xalice", 42)
	token, _ := forger.IssueToken("0xalice", []string{string(h)}, time.Minute)

	_, err := auth.RequestReveal(token, "0xalice", h)
	if !errors.Is(err, reveal.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}
