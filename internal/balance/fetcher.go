package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/chain"
)

const erc20ABIJSON = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// Fetcher reads the balance of one asset.
type Fetcher interface {
	Asset() string
	BalanceOf(ctx context.Context, addr common.Address) (decimal.Decimal, error)
}

// NativeFetcher reads the chain's gas token balance.
type NativeFetcher struct {
	chains  chain.Provider
	chainID uint64
	symbol  string
}

// NewNativeFetcher builds a gas token fetcher for chainID.
func NewNativeFetcher(chains chain.Provider, chainID uint64, symbol string) *NativeFetcher {
	return &NativeFetcher{chains: chains, chainID: chainID, symbol: symbol}
}

func (f *NativeFetcher) Asset() string { return f.symbol }

func (f *NativeFetcher) BalanceOf(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	client, err := f.chains.Client(ctx, f.chainID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	wei, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

// TokenFetcher reads an ERC-20 balance with balanceOf.
type TokenFetcher struct {
	chains   chain.Provider
	chainID  uint64
	token    common.Address
	symbol   string
	decimals int32
}

// NewTokenFetcher builds an ERC-20 fetcher. Non-positive decimals default to 18.
func NewTokenFetcher(chains chain.Provider, chainID uint64, token common.Address, symbol string, decimals int32) *TokenFetcher {
	if decimals <= 0 {
		decimals = 18
	}
	return &TokenFetcher{chains: chains, chainID: chainID, token: token, symbol: symbol, decimals: decimals}
}

func (f *TokenFetcher) Asset() string { return f.symbol }

func (f *TokenFetcher) BalanceOf(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	client, err := f.chains.Client(ctx, f.chainID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	payload, err := erc20ABI.Pack("balanceOf", addr)
	if err != nil {
		return decimal.Decimal{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &f.token, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("balanceOf %s: %w", addr.Hex(), err)
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 1 {
		return decimal.Decimal{}, fmt.Errorf("unexpected balanceOf response")
	}
	raw, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("failed to decode balanceOf output")
	}
	return decimal.NewFromBigInt(raw, -f.decimals), nil
}

var (
	_ Fetcher = (*NativeFetcher)(nil)
	_ Fetcher = (*TokenFetcher)(nil)
)
