package decoder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"disputable-values-monitor/internal/chain"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/query"
)

var (
	// ErrUnexpectedTopics indicates a log whose topic layout matches no known event variant.
	ErrUnexpectedTopics = errors.New("decoder: unexpected topics")
	// ErrMissingField indicates an event argument could not be read.
	ErrMissingField = errors.New("decoder: missing event field")
)

// Endpoints is the part of the chain registry the decoder needs.
type Endpoints interface {
	Has(chainID uint64) bool
	ExplorerTxURL(chainID uint64, txHash common.Hash) string
}

// Decoder turns raw logs into typed records.
type Decoder struct {
	endpoints Endpoints
	logger    zerolog.Logger
}

// New constructs a Decoder.
func New(endpoints Endpoints, logger zerolog.Logger) *Decoder {
	return &Decoder{endpoints: endpoints, logger: logger.With().Str("component", "decoder").Logger()}
}

// IsOracleAddressEvent reports whether l announces a new or proposed oracle address.
func IsOracleAddressEvent(l types.Log) bool {
	for _, t := range l.Topics {
		if t == oracle.TopicNewOracleAddress || t == oracle.TopicNewProposedOracleAddress {
			return true
		}
	}
	return false
}

// DecodeReport decodes a NewReport log. When the value bytes do not match the
// query's value type the raw bytes are kept.
func (d *Decoder) DecodeReport(chainID uint64, l types.Log) (*oracle.Report, *query.Query, error) {
	if !d.endpoints.Has(chainID) {
		return nil, nil, fmt.Errorf("%w: chain_id %d", chain.ErrNoEndpoint, chainID)
	}
	if len(l.Topics) == 0 || l.Topics[0] != oracle.TopicNewReport {
		return nil, nil, fmt.Errorf("%w: not a NewReport log", ErrUnexpectedTopics)
	}

	fields := make(map[string]any, 6)
	switch len(l.Topics) {
	case 1:
		if err := flatReportABI.UnpackIntoMap(fields, "NewReport", l.Data); err != nil {
			return nil, nil, fmt.Errorf("unpack NewReport data: %w", err)
		}
	case 4:
		ev := indexedReportABI.Events["NewReport"]
		if err := indexedReportABI.UnpackIntoMap(fields, "NewReport", l.Data); err != nil {
			return nil, nil, fmt.Errorf("unpack NewReport data: %w", err)
		}
		if err := abi.ParseTopicsIntoMap(fields, indexedInputs(ev), l.Topics[1:]); err != nil {
			return nil, nil, fmt.Errorf("parse NewReport topics: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("%w: NewReport with %d topics", ErrUnexpectedTopics, len(l.Topics))
	}

	queryID, err := hashField(fields, "_queryId")
	if err != nil {
		return nil, nil, err
	}
	ts, err := uintField(fields, "_time")
	if err != nil {
		return nil, nil, err
	}
	nonce, err := uintField(fields, "_nonce")
	if err != nil {
		return nil, nil, err
	}
	reporter, err := addressField(fields, "_reporter")
	if err != nil {
		return nil, nil, err
	}
	rawValue, _ := fields["_value"].([]byte)
	queryData, _ := fields["_queryData"].([]byte)

	q, err := query.Decode(queryData)
	if err != nil {
		return nil, nil, fmt.Errorf("decode query data: %w", err)
	}

	value, err := q.DecodeValue(rawValue)
	if err != nil {
		d.logger.Debug().Err(err).Str("tx", l.TxHash.Hex()).Str("query_type", q.Type).Msg("keeping raw value bytes")
		value = oracle.Bytes(rawValue)
	}

	report := &oracle.Report{
		TxHash:          l.TxHash,
		LogIndex:        l.Index,
		ChainID:         chainID,
		BlockNumber:     l.BlockNumber,
		Timestamp:       ts,
		QueryID:         queryID,
		QueryData:       queryData,
		QueryType:       q.Type,
		Asset:           q.Asset(),
		Currency:        q.Currency(),
		Reporter:        reporter,
		ContractAddress: l.Address,
		Nonce:           nonce,
		Value:           value,
		Link:            d.endpoints.ExplorerTxURL(chainID, l.TxHash),
	}
	return report, q, nil
}

// DecodeDispute decodes a NewDispute log.
func (d *Decoder) DecodeDispute(chainID uint64, l types.Log) (*oracle.Dispute, error) {
	if !d.endpoints.Has(chainID) {
		return nil, fmt.Errorf("%w: chain_id %d", chain.ErrNoEndpoint, chainID)
	}
	if len(l.Topics) != 1 || l.Topics[0] != oracle.TopicNewDispute {
		return nil, fmt.Errorf("%w: not a NewDispute log", ErrUnexpectedTopics)
	}

	fields := make(map[string]any, 9)
	if err := disputeABI.UnpackIntoMap(fields, "NewDispute", l.Data); err != nil {
		return nil, fmt.Errorf("unpack NewDispute data: %w", err)
	}

	dispute := &oracle.Dispute{
		TxHash:      l.TxHash,
		ChainID:     chainID,
		BlockNumber: l.BlockNumber,
		Link:        d.endpoints.ExplorerTxURL(chainID, l.TxHash),
	}

	var err error
	if dispute.DisputeID, err = uintField(fields, "_disputeId"); err != nil {
		return nil, err
	}
	if dispute.QueryID, err = hashField(fields, "_queryId"); err != nil {
		return nil, err
	}
	if dispute.Timestamp, err = uintField(fields, "_timestamp"); err != nil {
		return nil, err
	}
	if dispute.Reporter, err = addressField(fields, "_reporter"); err != nil {
		return nil, err
	}
	if dispute.Initiator, err = addressField(fields, "_initiator"); err != nil {
		return nil, err
	}
	if dispute.StartDate, err = uintField(fields, "_startDate"); err != nil {
		return nil, err
	}
	if dispute.VoteRound, err = uintField(fields, "_voteRound"); err != nil {
		return nil, err
	}
	if dispute.VoteRoundLength, err = uintField(fields, "_voteRoundLength"); err != nil {
		return nil, err
	}
	fee, ok := fields["_fee"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: _fee", ErrMissingField)
	}
	dispute.Fee = decimal.NewFromBigInt(fee, -18)

	return dispute, nil
}

func hashField(fields map[string]any, name string) (common.Hash, error) {
	switch v := fields[name].(type) {
	case [32]byte:
		return common.Hash(v), nil
	case common.Hash:
		return v, nil
	default:
		return common.Hash{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
}

func uintField(fields map[string]any, name string) (uint64, error) {
	v, ok := fields[name].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v.Uint64(), nil
}

func addressField(fields map[string]any, name string) (common.Address, error) {
	v, ok := fields[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return v, nil
}
