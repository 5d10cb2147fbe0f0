package ledger

import "fmt"

// Address identifies an account holder by its on-chain style hex address.
type Address string

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeBalance AccountSubType = iota

	// System sub-types
	SubTypeSystemHouse

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for custody balance tracking.
// The ledger is single-asset: every amount is denominated in the
// confidential balance unit.
type AccountKey struct {
	Scope    AccountScope
	EntityID Address // holder address for user accounts, name for system accounts
	SubType  AccountSubType
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(addr Address, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: addr,
		SubType:  subType,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: Address(name),
		SubType:  subType,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.EntityID, k.subTypeName())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.EntityID, k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeBalance:
		return "balance"
	case SubTypeSystemHouse:
		return "house"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
