package query

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputable-values-monitor/internal/oracle"
)

func TestEncodeSpotPriceMatchesOnChainQueryID(t *testing.T) {
	data, err := Encode("SpotPrice", "ohm", "eth")
	require.NoError(t, err)
	assert.Equal(t,
		common.HexToHash("0xee4fcdeed773931af0bcd16cfcea5b366682ffbd4994cf78b4f0a6a40b570340"),
		ID(data))

	q, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "SpotPrice", q.Type)
	assert.Equal(t, KindSpotPrice, q.Kind)
	assert.Equal(t, EncodingABI, q.Encoding)
	assert.Equal(t, "ohm", q.Asset())
	assert.Equal(t, "eth", q.Currency())
	assert.Equal(t, "SpotPrice(asset=ohm,currency=eth)", q.Descriptor())
}

func TestDecodeJSONQuery(t *testing.T) {
	data, err := EncodeJSON("AmpleforthUSPCE", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"AmpleforthUSPCE"}`, string(data))

	q, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, q.Encoding)
	assert.Equal(t, KindGeneric, q.Kind)
	assert.False(t, q.HasParams())
	assert.Equal(t, oracle.NotAvailable, q.Asset())
}

func TestDecodeUnknownType(t *testing.T) {
	data, err := envelopeArgs.Pack("NotARealQuery", []byte{})
	require.NoError(t, err)

	_, err = Decode(data)
	require.ErrorIs(t, err, ErrUnknownQueryType)

	_, err = Decode([]byte(`{"type":"NotARealQuery"}`))
	require.ErrorIs(t, err, ErrUnknownQueryType)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode(nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeSpotPriceValue(t *testing.T) {
	data, err := Encode("SpotPrice", "ohm", "eth")
	require.NoError(t, err)
	q, err := Decode(data)
	require.NoError(t, err)

	raw := common.LeftPadBytes(common.FromHex("0x248c37b20efbff"), 32)
	v, err := q.DecodeValue(raw)
	require.NoError(t, err)
	assert.Equal(t, oracle.KindFloat, v.Kind)
	assert.Equal(t, "0.010287269999999999", v.Float.String())
}

func TestDecodeEVMCallValueIsTuple(t *testing.T) {
	data, err := Encode("EVMCall", big.NewInt(1), common.HexToAddress("0x88dF592F8eb5D7Bd38bFeF7dEb0fBc02cf3778a0"), []byte{0x18, 0x16, 0x0d, 0xdd})
	require.NoError(t, err)
	q, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindEVMCall, q.Kind)

	chainID, ok := q.ParamUint64("chainId")
	require.True(t, ok)
	assert.Equal(t, uint64(1), chainID)

	raw, err := EncodeValue("EVMCall", []byte{0xde, 0xad}, big.NewInt(1650000000))
	require.NoError(t, err)
	v, err := q.DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, oracle.KindTuple, v.Kind)

	first, _ := v.Element(0)
	second, _ := v.Element(1)
	assert.Equal(t, []byte{0xde, 0xad}, first.Bytes)
	ts, ok := second.Uint64()
	require.True(t, ok)
	assert.Equal(t, uint64(1650000000), ts)
}

func TestDecodeValueMismatch(t *testing.T) {
	data, err := Encode("SpotPrice", "eth", "usd")
	require.NoError(t, err)
	q, err := Decode(data)
	require.NoError(t, err)

	_, err = q.DecodeValue([]byte{0x01})
	require.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRNG, KindOf("FetchRNG"))
	assert.Equal(t, KindRNGCustom, KindOf("FetchRNGCustom"))
	assert.Equal(t, KindUnsupported, KindOf("TellorOracleAddress"))
	assert.Equal(t, KindUnsupported, KindOf("Nope"))
	assert.True(t, Known("GasPriceOracle"))
}
