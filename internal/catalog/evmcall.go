package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/chain"
	"disputable-values-monitor/internal/feed"
	"disputable-values-monitor/internal/oracle"
)

// EVMCallSource reads a trusted value with eth_call.
type EVMCallSource struct {
	chains   chain.Provider
	chainID  uint64
	contract common.Address
	calldata []byte
	decimals int32
}

// FetchTrustedValue calls the contract at fc.Block when fc targets the same
// chain, and at the latest block otherwise.
func (s *EVMCallSource) FetchTrustedValue(ctx context.Context, fc feed.FetchContext) (*oracle.Value, error) {
	if s.chains == nil {
		return nil, errors.New("evm call source has no chain provider")
	}
	client, err := s.chains.Client(ctx, s.chainID)
	if err != nil {
		return nil, err
	}

	var block *big.Int
	if fc.ChainID == s.chainID && fc.Block != nil {
		block = fc.Block
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &s.contract, Data: s.calldata}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s on chain %d: %w", s.contract.Hex(), s.chainID, err)
	}

	if s.decimals < 0 {
		v := oracle.Bytes(res)
		return &v, nil
	}
	if len(res) < 32 {
		return nil, fmt.Errorf("call %s returned %d bytes, want a uint256", s.contract.Hex(), len(res))
	}
	v := oracle.Float(decimal.NewFromBigInt(new(big.Int).SetBytes(res[:32]), -s.decimals))
	return &v, nil
}

func (s *EVMCallSource) Describe() string {
	return fmt.Sprintf("evm_call chain=%d contract=%s", s.chainID, s.contract.Hex())
}

var _ feed.Source = (*EVMCallSource)(nil)
