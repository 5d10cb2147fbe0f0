package market_test

import (
	"errors"
	"testing"

	"secretinvest/internal/market"
)

// ============================================================================
// Test: PriceTable
// ============================================================================

func TestPriceTable_SetAndGet(t *testing.T) {
	pt := market.NewPriceTable("0xowner")

	if err := pt.SetPrice("0xowner", "BTC", 65_000); err != nil {
		t.Fatalf("SetPrice failed: %v", err)
	}

	price, err := pt.GetPrice("BTC")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if price != 65_000 {
		t.Errorf("got %d, want 65_000", price)
	}
}

func TestPriceTable_ZeroPriceIsSet(t *testing.T) {
	pt := market.NewPriceTable("0xowner")

	if err := pt.SetPrice("0xowner", "BTC", 0); err != nil {
		t.Fatalf("SetPrice failed: %v", err)
	}

	price, err := pt.GetPrice("BTC")
	if err != nil {
		t.Fatalf("zero is a legal price, got error: %v", err)
	}
	if price != 0 {
		t.Errorf("got %d, want 0", price)
	}
}

func TestPriceTable_UnsetInstrument(t *testing.T) {
	pt := market.NewPriceTable("0xowner")

	_, err := pt.GetPrice("DOGE")
	if !errors.Is(err, market.ErrPriceNotSet) {
		t.Errorf("got %v, want ErrPriceNotSet", err)
	}
}

func TestPriceTable_NonOwnerWrite_Unauthorized(t *testing.T) {
	pt := market.NewPriceTable("0xowner")

	err := pt.SetPrice("0xmallory", "BTC", 1)
	if !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}

	if _, err := pt.GetPrice("BTC"); !errors.Is(err, market.ErrPriceNotSet) {
		t.Error("rejected write must not record a price")
	}
}

func TestPriceTable_TransferOwnership(t *testing.T) {
	pt := market.NewPriceTable("0xowner")

	if err := pt.TransferOwnership("0xowner", "0xnew"); err != nil {
		t.Fatalf("TransferOwnership failed: %v", err)
	}
	if pt.Owner() != "0xnew" {
		t.Errorf("owner: got %q, want %q", pt.Owner(), "0xnew")
	}

	// Old owner loses write access
	if err := pt.SetPrice("0xowner", "BTC", 1); !errors.Is(err, market.ErrUnauthorized) {
		t.Error("old owner should be unauthorized after transfer")
	}

	// New owner gains it
	if err := pt.SetPrice("0xnew", "BTC", 1); err != nil {
		t.Errorf("new owner should be authorized: %v", err)
	}
}

func TestPriceTable_TransferByNonOwner_Unauthorized(t *testing.T) {
	pt := market.NewPriceTable("0xowner")

	err := pt.TransferOwnership("0xmallory", "0xmallory")
	if !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if pt.Owner() != "0xowner" {
		t.Error("rejected transfer must not change owner")
	}
}
