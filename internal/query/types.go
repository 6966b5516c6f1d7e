package query

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Kind is the closed set of query shapes the monitor branches on.
type Kind int

const (
	KindUnsupported Kind = iota
	KindSpotPrice
	KindEVMCall
	KindRNG
	KindRNGCustom
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindSpotPrice:
		return "spot_price"
	case KindEVMCall:
		return "evm_call"
	case KindRNG:
		return "rng"
	case KindRNGCustom:
		return "rng_custom"
	case KindGeneric:
		return "generic"
	default:
		return "unsupported"
	}
}

type field struct {
	name       string
	typ        string
	components []abi.ArgumentMarshaling
}

type typeShape struct {
	kind   Kind
	params []field
	value  []field
	// scale shifts a single uint256 value into an ufixed decimal.
	scale int32

	paramArgs abi.Arguments
	valueArgs abi.Arguments
}

var collectionComponents = []abi.ArgumentMarshaling{
	{Name: "chain", Type: "string"},
	{Name: "collectionAddress", Type: "address"},
}

var shapes = map[string]*typeShape{
	"SpotPrice": {
		kind:   KindSpotPrice,
		params: []field{{name: "asset", typ: "string"}, {name: "currency", typ: "string"}},
		value:  []field{{name: "value", typ: "uint256"}},
		scale:  18,
	},
	"EVMCall": {
		kind:   KindEVMCall,
		params: []field{{name: "chainId", typ: "uint256"}, {name: "contractAddress", typ: "address"}, {name: "calldata", typ: "bytes"}},
		value:  []field{{name: "result", typ: "bytes"}, {name: "timestamp", typ: "uint256"}},
	},
	"FetchRNG": {
		kind:   KindRNG,
		params: []field{{name: "timestamp", typ: "uint256"}},
		value:  []field{{name: "value", typ: "bytes32"}},
	},
	"TellorRNG": {
		kind:   KindRNG,
		params: []field{{name: "timestamp", typ: "uint256"}},
		value:  []field{{name: "value", typ: "bytes32"}},
	},
	"FetchRNGCustom": {
		kind:   KindRNGCustom,
		params: []field{{name: "name", typ: "string"}, {name: "interval", typ: "uint256"}},
		value:  []field{{name: "value", typ: "bytes32"}, {name: "timestamp", typ: "uint256"}},
	},
	"GasPriceOracle": {
		kind:   KindGeneric,
		params: []field{{name: "chainId", typ: "uint256"}, {name: "timestamp", typ: "uint256"}},
		value:  []field{{name: "value", typ: "uint256"}},
		scale:  18,
	},
	"AmpleforthCustomSpotPrice": {
		kind:  KindGeneric,
		value: []field{{name: "value", typ: "uint256"}},
		scale: 18,
	},
	"AmpleforthUSPCE": {
		kind:  KindGeneric,
		value: []field{{name: "value", typ: "uint256"}},
		scale: 18,
	},
	"MimicryCollectionStat": {
		kind:   KindGeneric,
		params: []field{{name: "chainId", typ: "uint256"}, {name: "collectionAddress", typ: "address"}, {name: "metric", typ: "uint256"}},
		value:  []field{{name: "value", typ: "uint256"}},
		scale:  18,
	},
	"MimicryNFTMarketIndex": {
		kind:   KindGeneric,
		params: []field{{name: "chain", typ: "string"}, {name: "currency", typ: "string"}},
		value:  []field{{name: "value", typ: "uint256"}},
		scale:  18,
	},
	"MimicryMacroMarketMashup": {
		kind: KindGeneric,
		params: []field{
			{name: "metric", typ: "string"},
			{name: "currency", typ: "string"},
			{name: "collections", typ: "tuple[]", components: collectionComponents},
			{name: "tokens", typ: "tuple[]", components: collectionComponents},
		},
		value: []field{{name: "value", typ: "uint256"}},
		scale: 18,
	},
	"DailyVolatility": {
		kind:   KindGeneric,
		params: []field{{name: "asset", typ: "string"}, {name: "currency", typ: "string"}, {name: "days", typ: "uint256"}},
		value:  []field{{name: "value", typ: "uint256"}},
		scale:  18,
	},
	"NumericApiResponse": {
		kind:   KindGeneric,
		params: []field{{name: "url", typ: "string"}, {name: "parseStr", typ: "string"}},
		value:  []field{{name: "value", typ: "uint256"}},
		scale:  18,
	},
	"StringQuery": {
		kind:   KindGeneric,
		params: []field{{name: "text", typ: "string"}},
		value:  []field{{name: "value", typ: "string"}},
	},
	"Snapshot": {
		kind:   KindGeneric,
		params: []field{{name: "proposalId", typ: "string"}, {name: "transactionsHash", typ: "bytes32"}, {name: "moduleAddress", typ: "address"}},
		value:  []field{{name: "value", typ: "bool"}},
	},
	"TellorOracleAddress": {
		kind:   KindUnsupported,
		params: []field{{name: "phantom", typ: "bytes"}},
		value:  []field{{name: "value", typ: "address"}},
	},
	"AutopayAddresses": {
		kind:   KindUnsupported,
		params: []field{{name: "phantom", typ: "bytes"}},
		value:  []field{{name: "value", typ: "address[]"}},
	},
}

var envelopeArgs abi.Arguments

func init() {
	envelopeArgs = mustArguments([]field{{name: "queryType", typ: "string"}, {name: "params", typ: "bytes"}})
	for name, shape := range shapes {
		shape.paramArgs = mustArguments(shape.params)
		shape.valueArgs = mustArguments(shape.value)
		if len(shape.value) == 0 {
			panic(fmt.Sprintf("query type %s has no value type", name))
		}
	}
}

func mustArguments(fields []field) abi.Arguments {
	args := make(abi.Arguments, 0, len(fields))
	for _, f := range fields {
		typ, err := abi.NewType(f.typ, "", f.components)
		if err != nil {
			panic("invalid abi type " + f.typ + ": " + err.Error())
		}
		args = append(args, abi.Argument{Name: f.name, Type: typ})
	}
	return args
}

// Known reports whether queryType has a registered shape.
func Known(queryType string) bool {
	_, ok := shapes[queryType]
	return ok
}

// KindOf returns the kind registered for queryType.
func KindOf(queryType string) Kind {
	if shape, ok := shapes[queryType]; ok {
		return shape.kind
	}
	return KindUnsupported
}
