package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	log "github.com/sirupsen/logrus"
)

// Contract is the slice of the INK ERC-20 token the ledger uses. ERC20 is the
// on-chain implementation; tests use an in-memory one.
type Contract interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Decimals(ctx context.Context) (uint8, error)
	Name(ctx context.Context) (string, error)
	Symbol(ctx context.Context) (string, error)
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	UserBalance string `json:"user_balance"`
	Allowance   string `json:"allowance"`
}

// Ledger reads and moves INK on behalf of one wallet. Amounts in and out are
// decimal strings. Balances are never cached; decimals are read once per
// Ledger value.
type Ledger struct {
	contract Contract
	wallet   common.Address
	escrow   common.Address

	mu       sync.Mutex
	decimals *uint8
}

// New returns a ledger bound to wallet. A nil contract yields a ledger whose
// every call fails with ErrNotInitialized.
func New(contract Contract, wallet, escrow common.Address) *Ledger {
	return &Ledger{contract: contract, wallet: wallet, escrow: escrow}
}

func (l *Ledger) Wallet() string {
	return strings.ToLower(l.wallet.Hex())
}

func (l *Ledger) Escrow() string {
	return strings.ToLower(l.escrow.Hex())
}

func (l *Ledger) ready() error {
	if l == nil || l.contract == nil || l.wallet == (common.Address{}) {
		return ErrNotInitialized
	}
	return nil
}

func (l *Ledger) tokenDecimals(ctx context.Context) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.decimals != nil {
		return *l.decimals, nil
	}
	d, err := l.contract.Decimals(ctx)
	if err != nil {
		return 0, fmt.Errorf("read token decimals: %w", err)
	}
	l.decimals = &d
	return d, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func (l *Ledger) GetBalance(ctx context.Context, address string) (string, error) {
	if err := l.ready(); err != nil {
		return "", err
	}
	owner, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	dec, err := l.tokenDecimals(ctx)
	if err != nil {
		return "", err
	}
	bal, err := l.contract.BalanceOf(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("failed to get INK token balance: %w", err)
	}
	return FormatUnits(bal, dec), nil
}

func (l *Ledger) GetAllowance(ctx context.Context, owner, spender string) (string, error) {
	if err := l.ready(); err != nil {
		return "", err
	}
	o, err := parseAddress(owner)
	if err != nil {
		return "", err
	}
	s, err := parseAddress(spender)
	if err != nil {
		return "", err
	}
	dec, err := l.tokenDecimals(ctx)
	if err != nil {
		return "", err
	}
	allowance, err := l.contract.Allowance(ctx, o, s)
	if err != nil {
		return "", fmt.Errorf("failed to check INK token allowance: %w", err)
	}
	return FormatUnits(allowance, dec), nil
}

// Approve lets spender move amount out of the wallet and waits for one
// confirmation. It is never retried.
func (l *Ledger) Approve(ctx context.Context, spender, amount string) (string, error) {
	if err := l.ready(); err != nil {
		return "", err
	}
	to, err := parseAddress(spender)
	if err != nil {
		return "", err
	}
	value, err := l.scale(ctx, amount)
	if err != nil {
		return "", err
	}

	log.Infof("approving %s INK for %s", amount, to.Hex())
	tx, err := l.contract.Approve(ctx, to, value)
	if err != nil {
		return "", &TxError{Op: "approve", Err: err}
	}
	return l.confirm(ctx, "approve", tx)
}

// Transfer moves amount from the wallet to `to` after checking a fresh
// balance, then waits for one confirmation. It is never retried.
func (l *Ledger) Transfer(ctx context.Context, to, amount string) (string, error) {
	if err := l.ready(); err != nil {
		return "", err
	}
	dest, err := parseAddress(to)
	if err != nil {
		return "", err
	}
	need, err := toDecimal(amount)
	if err != nil {
		return "", err
	}
	value, err := l.scale(ctx, amount)
	if err != nil {
		return "", err
	}

	balStr, err := l.GetBalance(ctx, l.wallet.Hex())
	if err != nil {
		return "", err
	}
	have, err := toDecimal(balStr)
	if err != nil {
		return "", err
	}
	if have.LessThan(need) {
		return "", &InsufficientBalanceError{Have: have, Need: need}
	}

	log.Infof("transferring %s INK to %s", amount, dest.Hex())
	tx, err := l.contract.Transfer(ctx, dest, value)
	if err != nil {
		return "", &TxError{Op: "transfer", Err: err}
	}
	return l.confirm(ctx, "transfer", tx)
}

func (l *Ledger) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	name, err := l.contract.Name(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get INK token information: %w", err)
	}
	symbol, err := l.contract.Symbol(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get INK token information: %w", err)
	}
	dec, err := l.tokenDecimals(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := l.GetBalance(ctx, l.wallet.Hex())
	if err != nil {
		return nil, err
	}
	allowance, err := l.GetAllowance(ctx, l.wallet.Hex(), l.escrow.Hex())
	if err != nil {
		return nil, err
	}
	return &TokenInfo{
		Name:        name,
		Symbol:      symbol,
		Decimals:    dec,
		UserBalance: balance,
		Allowance:   allowance,
	}, nil
}

func (l *Ledger) scale(ctx context.Context, amount string) (*big.Int, error) {
	dec, err := l.tokenDecimals(ctx)
	if err != nil {
		return nil, err
	}
	return ParseUnits(amount, dec)
}

func (l *Ledger) confirm(ctx context.Context, op string, tx *types.Transaction) (string, error) {
	hash := tx.Hash().Hex()
	log.Infof("%s transaction sent: %s", op, hash)

	receipt, err := l.contract.WaitMined(ctx, tx)
	if err != nil {
		return "", &TxError{Op: op, Hash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", &TxError{Op: op, Hash: hash, Reverted: true, Err: fmt.Errorf("receipt status %d", receipt.Status)}
	}

	log.Infof("%s transaction confirmed: %s", op, hash)
	return hash, nil
}
