package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotInitialized    = errors.New("INK token contract not initialized, please connect your wallet")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrInsufficientFunds = errors.New("insufficient INK balance")
)

// InsufficientBalanceError names what the wallet holds and what the step needs.
type InsufficientBalanceError struct {
	Have    decimal.Decimal
	Need    decimal.Decimal
	Purpose string // "prize pool", "entry fee" or empty
}

func (e *InsufficientBalanceError) Error() string {
	msg := fmt.Sprintf("insufficient INK balance: you have %s INK but need %s INK", e.Have.String(), e.Need.String())
	if e.Purpose != "" {
		msg += " for the " + e.Purpose
	}
	return msg
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// TxError wraps a failed approve or transfer. Hash is empty when the
// transaction never made it to the chain. A hash without Reverted means the
// transaction was broadcast but its outcome is unknown.
type TxError struct {
	Op       string
	Hash     string
	Reverted bool
	Err      error
}

// Unconfirmed reports whether the transaction was sent and may still be mined.
func (e *TxError) Unconfirmed() bool {
	return e.Hash != "" && !e.Reverted
}

func (e *TxError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("failed to %s INK tokens (tx %s): %v", e.Op, e.Hash, e.Err)
	}
	return fmt.Sprintf("failed to %s INK tokens: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

func (e *TxError) Is(target error) bool {
	return target == ErrTransactionFailed
}
