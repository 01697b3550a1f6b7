package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc20ABI is the fixed INK token surface.
const erc20ABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var errNoSigner = errors.New("no signing key configured")

// ERC20 binds the INK token over JSON-RPC.
type ERC20 struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts
	wallet   common.Address
}

// DialERC20 connects to rpcURL and binds the token at tokenAddress. With a
// signer key the binding can approve and transfer; without one it is
// read-only and the returned wallet address is zero.
func DialERC20(ctx context.Context, rpcURL, tokenAddress, signerKey string) (*ERC20, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	token := &ERC20{
		client:   client,
		contract: bind.NewBoundContract(common.HexToAddress(tokenAddress), parsed, client, client, client),
	}

	if signerKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(signerKey), "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("build transactor: %w", err)
		}
		token.auth = auth
		token.wallet = crypto.PubkeyToAddress(key.PublicKey)
	}

	return token, nil
}

func (e *ERC20) Wallet() common.Address {
	return e.wallet
}

func (e *ERC20) Close() {
	e.client.Close()
}

func (e *ERC20) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := e.contract.Call(&bind.CallOpts{Context: ctx, From: e.wallet}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := e.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (e *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := e.call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (e *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := e.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (e *ERC20) Name(ctx context.Context) (string, error) {
	out, err := e.call(ctx, "name")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (e *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := e.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (e *ERC20) transact(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	if e.auth == nil {
		return nil, errNoSigner
	}
	opts := *e.auth
	opts.Context = ctx
	return e.contract.Transact(&opts, method, args...)
}

func (e *ERC20) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	return e.transact(ctx, "approve", spender, amount)
}

func (e *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	return e.transact(ctx, "transfer", to, amount)
}

func (e *ERC20) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, e.client, tx)
}
