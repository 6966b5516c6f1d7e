// Package disputer turns disputable reports into beginDispute calls.
package disputer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/oracle"
)

// DisputeWindow is how long after submission a report can still be disputed.
const DisputeWindow = 12 * time.Hour

// ErrWindowClosed is returned for reports older than the dispute window.
var ErrWindowClosed = errors.New("disputer: dispute window closed")

const governanceABI = `[{"type":"function","name":"beginDispute","stateMutability":"nonpayable","inputs":[{"name":"_queryId","type":"bytes32"},{"name":"_timestamp","type":"uint256"}],"outputs":[]}]`

var governance abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(governanceABI))
	if err != nil {
		panic(fmt.Sprintf("parse governance abi: %v", err))
	}
	governance = parsed
}

// Submitter starts a dispute against a report and returns a human summary.
type Submitter interface {
	SubmitDispute(ctx context.Context, report *oracle.Report) (string, error)
}

// BeginDisputeCalldata encodes beginDispute(queryId, timestamp).
func BeginDisputeCalldata(queryID common.Hash, timestamp uint64) ([]byte, error) {
	data, err := governance.Pack("beginDispute", [32]byte(queryID), new(big.Int).SetUint64(timestamp))
	if err != nil {
		return nil, fmt.Errorf("pack beginDispute: %w", err)
	}
	return data, nil
}

// DryRunSubmitter builds the dispute transaction without signing it.
type DryRunSubmitter struct {
	governance map[uint64]common.Address
	now        func() time.Time
	logger     zerolog.Logger
}

// NewDryRunSubmitter maps chain ids to governance contract addresses.
func NewDryRunSubmitter(governance map[uint64]common.Address, logger zerolog.Logger) *DryRunSubmitter {
	return &DryRunSubmitter{
		governance: governance,
		now:        time.Now,
		logger:     logger.With().Str("component", "disputer").Logger(),
	}
}

func (s *DryRunSubmitter) SubmitDispute(ctx context.Context, r *oracle.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	submitted := time.Unix(int64(r.Timestamp), 0)
	if s.now().Sub(submitted) > DisputeWindow {
		return "", fmt.Errorf("%w: report %s submitted %s", ErrWindowClosed, r.TxHash.Hex(), submitted.UTC().Format(time.RFC3339))
	}
	target, ok := s.governance[r.ChainID]
	if !ok {
		return "", fmt.Errorf("no governance contract configured for chain %d", r.ChainID)
	}
	data, err := BeginDisputeCalldata(r.QueryID, r.Timestamp)
	if err != nil {
		return "", err
	}

	s.logger.Warn().
		Uint64("chain_id", r.ChainID).
		Str("tx_hash", r.TxHash.Hex()).
		Str("governance", target.Hex()).
		Msg("dry run dispute prepared, not broadcast")

	return fmt.Sprintf("Dry run: beginDispute on %s\nCalldata: 0x%s", target.Hex(), hex.EncodeToString(data)), nil
}

var _ Submitter = (*DryRunSubmitter)(nil)
