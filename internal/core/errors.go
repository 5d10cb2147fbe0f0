package core

import "errors"

var (
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrAmountTooLarge        = errors.New("amount exceeds the custody journal range")
	ErrInsufficientBalance   = errors.New("encrypted balance is insufficient")
	ErrPositionAlreadyOpen   = errors.New("account already has an active position")
	ErrNoActivePosition      = errors.New("account has no active position")
	ErrSettlementUnavailable = errors.New("settlement inputs unavailable")
)
