package decoder

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputable-values-monitor/internal/chain"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/query"
)

// NewReport emitted by a TellorFlex oracle for OHM/ETH SpotPrice.
const flatReportData = "0xee4fcdeed773931af0bcd16cfcea5b366682ffbd4994cf78b4f0a6a40b570340" +
	"0000000000000000000000000000000000000000000000000000000062321eec" +
	"00000000000000000000000000000000000000000000000000000000000000c0" +
	"000000000000000000000000000000000000000000000000000000000000003a" +
	"0000000000000000000000000000000000000000000000000000000000000100" +
	"000000000000000000000000d5f1cc896542c111c7aa7d7fae2c3d654f34b927" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"00000000000000000000000000000000000000000000000000248c37b20efbff" +
	"0000000000000000000000000000000000000000000000000000000000000160" +
	"0000000000000000000000000000000000000000000000000000000000000040" +
	"0000000000000000000000000000000000000000000000000000000000000080" +
	"0000000000000000000000000000000000000000000000000000000000000009" +
	"53706f7450726963650000000000000000000000000000000000000000000000" +
	"00000000000000000000000000000000000000000000000000000000000000c0" +
	"0000000000000000000000000000000000000000000000000000000000000040" +
	"0000000000000000000000000000000000000000000000000000000000000080" +
	"0000000000000000000000000000000000000000000000000000000000000003" +
	"6f686d0000000000000000000000000000000000000000000000000000000000" +
	"0000000000000000000000000000000000000000000000000000000000000003" +
	"6574680000000000000000000000000000000000000000000000000000000000"

type fakeEndpoints map[uint64]string

func (f fakeEndpoints) Has(chainID uint64) bool { _, ok := f[chainID]; return ok }

func (f fakeEndpoints) ExplorerTxURL(chainID uint64, tx common.Hash) string {
	return f[chainID] + "tx/" + tx.Hex()
}

func newTestDecoder() *Decoder {
	return New(fakeEndpoints{80001: "https://mumbai.polygonscan.com/"}, zerolog.Nop())
}

func exampleLog() types.Log {
	return types.Log{
		Address:     common.HexToAddress("0x41b66dd93b03e89D29114a7613A6f9f0d4F40178"),
		BlockNumber: 25541322,
		BlockHash:   common.HexToHash("0xa1f1e3f1c1e8b1d0d3d1a3c2b4b8a6a4d6f0a4d6e6b2c0c2a9d1f4b2c3e4f5a6"),
		TxHash:      common.HexToHash("0x0b91b05c53c527918615be6914ec087275d80a454a468977409da1634f25cbf4"),
		Topics:      []common.Hash{oracle.TopicNewReport},
		Data:        common.FromHex(flatReportData),
	}
}

func TestEventIDsMatchTopics(t *testing.T) {
	assert.Equal(t, oracle.TopicNewReport, flatReportABI.Events["NewReport"].ID)
	assert.Equal(t, oracle.TopicNewReport, indexedReportABI.Events["NewReport"].ID)
	assert.Equal(t, oracle.TopicNewDispute, disputeABI.Events["NewDispute"].ID)
}

func TestDecodeFlatReport(t *testing.T) {
	report, q, err := newTestDecoder().DecodeReport(80001, exampleLog())
	require.NoError(t, err)

	assert.Equal(t, "SpotPrice", report.QueryType)
	assert.Equal(t, query.KindSpotPrice, q.Kind)
	assert.Equal(t, common.HexToHash("0xee4fcdeed773931af0bcd16cfcea5b366682ffbd4994cf78b4f0a6a40b570340"), report.QueryID)
	assert.Equal(t, uint64(1647451884), report.Timestamp)
	assert.Equal(t, uint64(58), report.Nonce)
	assert.Equal(t, common.HexToAddress("0xd5f1Cc896542C111c7Aa7D7fae2C3D654f34b927"), report.Reporter)
	assert.Equal(t, "ohm", report.Asset)
	assert.Equal(t, "eth", report.Currency)
	assert.Equal(t, oracle.KindFloat, report.Value.Kind)
	assert.Equal(t, "0.010287269999999999", report.Value.Float.String())
	assert.Equal(t, uint64(25541322), report.BlockNumber)
	assert.Equal(t, "https://mumbai.polygonscan.com/tx/0x0b91b05c53c527918615be6914ec087275d80a454a468977409da1634f25cbf4", report.Link)
	assert.Equal(t, oracle.VerdictUnknown, report.Verdict)
}

func TestDecodeIndexedReport(t *testing.T) {
	queryData, err := query.Encode("SpotPrice", "eth", "usd")
	require.NoError(t, err)
	value, err := query.EncodeValue("SpotPrice", new(big.Int).Mul(big.NewInt(1850), big.NewInt(1e18)))
	require.NoError(t, err)

	ev := indexedReportABI.Events["NewReport"]
	data, err := ev.Inputs.NonIndexed().Pack(value, big.NewInt(7), queryData)
	require.NoError(t, err)

	qid := query.ID(queryData)
	reporter := common.HexToAddress("0x1111111111111111111111111111111111111111")
	l := types.Log{
		TxHash: common.HexToHash("0x01"),
		Topics: []common.Hash{
			oracle.TopicNewReport,
			qid,
			common.BigToHash(big.NewInt(1700000000)),
			common.BytesToHash(reporter.Bytes()),
		},
		Data: data,
	}

	report, _, err := newTestDecoder().DecodeReport(80001, l)
	require.NoError(t, err)
	assert.Equal(t, qid, report.QueryID)
	assert.Equal(t, uint64(1700000000), report.Timestamp)
	assert.Equal(t, reporter, report.Reporter)
	assert.Equal(t, "1850", report.Value.Float.String())
}

func TestDecodeKeepsRawValueOnMismatch(t *testing.T) {
	queryData, err := query.Encode("SpotPrice", "eth", "usd")
	require.NoError(t, err)

	data, err := flatReportABI.Events["NewReport"].Inputs.Pack(
		query.ID(queryData), big.NewInt(1), []byte{0xca, 0xfe}, big.NewInt(1), queryData, common.Address{},
	)
	require.NoError(t, err)

	l := types.Log{Topics: []common.Hash{oracle.TopicNewReport}, Data: data}
	report, _, err := newTestDecoder().DecodeReport(80001, l)
	require.NoError(t, err)
	assert.Equal(t, oracle.KindBytes, report.Value.Kind)
	assert.Equal(t, []byte{0xca, 0xfe}, report.Value.Bytes)
}

func TestDecodeReportFailures(t *testing.T) {
	d := newTestDecoder()

	_, _, err := d.DecodeReport(1, exampleLog())
	assert.True(t, errors.Is(err, chain.ErrNoEndpoint))

	l := exampleLog()
	l.Topics = []common.Hash{oracle.TopicNewReport, {}}
	_, _, err = d.DecodeReport(80001, l)
	assert.True(t, errors.Is(err, ErrUnexpectedTopics))

	l = exampleLog()
	l.Data = l.Data[:64]
	_, _, err = d.DecodeReport(80001, l)
	assert.Error(t, err)

	unknown, err := flatReportABI.Events["NewReport"].Inputs.Pack(
		common.Hash{}, big.NewInt(1), []byte{}, big.NewInt(1), []byte(`{"type":"Mystery"}`), common.Address{},
	)
	require.NoError(t, err)
	_, _, err = d.DecodeReport(80001, types.Log{Topics: []common.Hash{oracle.TopicNewReport}, Data: unknown})
	assert.True(t, errors.Is(err, query.ErrUnknownQueryType))
}

func TestDecodeDispute(t *testing.T) {
	reporter := common.HexToAddress("0xd5f1Cc896542C111c7Aa7D7fae2C3D654f34b927")
	initiator := common.HexToAddress("0x2222222222222222222222222222222222222222")
	qid := common.HexToHash("0xee4fcdeed773931af0bcd16cfcea5b366682ffbd4994cf78b4f0a6a40b570340")
	fee := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))

	data, err := disputeABI.Events["NewDispute"].Inputs.Pack(
		big.NewInt(12), qid, big.NewInt(1647451884), reporter, initiator,
		big.NewInt(1647452000), big.NewInt(1), fee, big.NewInt(86400),
	)
	require.NoError(t, err)

	dispute, err := newTestDecoder().DecodeDispute(80001, types.Log{
		BlockNumber: 99,
		TxHash:      common.HexToHash("0x02"),
		Topics:      []common.Hash{oracle.TopicNewDispute},
		Data:        data,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(12), dispute.DisputeID)
	assert.Equal(t, qid, dispute.QueryID)
	assert.Equal(t, reporter, dispute.Reporter)
	assert.Equal(t, initiator, dispute.Initiator)
	assert.Equal(t, uint64(1647452000), dispute.StartDate)
	assert.Equal(t, uint64(1), dispute.VoteRound)
	assert.Equal(t, uint64(86400), dispute.VoteRoundLength)
	assert.Equal(t, "10", dispute.Fee.String())
	assert.Equal(t, uint64(99), dispute.BlockNumber)
}

func TestIsOracleAddressEvent(t *testing.T) {
	assert.True(t, IsOracleAddressEvent(types.Log{Topics: []common.Hash{oracle.TopicNewOracleAddress}}))
	assert.True(t, IsOracleAddressEvent(types.Log{Topics: []common.Hash{oracle.TopicNewProposedOracleAddress}}))
	assert.False(t, IsOracleAddressEvent(exampleLog()))
}
