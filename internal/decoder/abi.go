package decoder

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	// Tellor360 oracle: query id, time and reporter are indexed.
	indexedReportABIJSON = `[{"anonymous":false,"name":"NewReport","type":"event","inputs":[
		{"indexed":true,"name":"_queryId","type":"bytes32"},
		{"indexed":true,"name":"_time","type":"uint256"},
		{"indexed":false,"name":"_value","type":"bytes"},
		{"indexed":false,"name":"_nonce","type":"uint256"},
		{"indexed":false,"name":"_queryData","type":"bytes"},
		{"indexed":true,"name":"_reporter","type":"address"}]}]`

	// TellorFlex oracle: every argument lives in the data section.
	flatReportABIJSON = `[{"anonymous":false,"name":"NewReport","type":"event","inputs":[
		{"indexed":false,"name":"_queryId","type":"bytes32"},
		{"indexed":false,"name":"_time","type":"uint256"},
		{"indexed":false,"name":"_value","type":"bytes"},
		{"indexed":false,"name":"_nonce","type":"uint256"},
		{"indexed":false,"name":"_queryData","type":"bytes"},
		{"indexed":false,"name":"_reporter","type":"address"}]}]`

	disputeABIJSON = `[{"anonymous":false,"name":"NewDispute","type":"event","inputs":[
		{"indexed":false,"name":"_disputeId","type":"uint256"},
		{"indexed":false,"name":"_queryId","type":"bytes32"},
		{"indexed":false,"name":"_timestamp","type":"uint256"},
		{"indexed":false,"name":"_reporter","type":"address"},
		{"indexed":false,"name":"_initiator","type":"address"},
		{"indexed":false,"name":"_startDate","type":"uint256"},
		{"indexed":false,"name":"_voteRound","type":"uint256"},
		{"indexed":false,"name":"_fee","type":"uint256"},
		{"indexed":false,"name":"_voteRoundLength","type":"uint256"}]}]`
)

var (
	indexedReportABI abi.ABI
	flatReportABI    abi.ABI
	disputeABI       abi.ABI
)

func init() {
	indexedReportABI = mustParse(indexedReportABIJSON, "indexed NewReport")
	flatReportABI = mustParse(flatReportABIJSON, "flat NewReport")
	disputeABI = mustParse(disputeABIJSON, "NewDispute")
}

func mustParse(def, name string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}

func indexedInputs(ev abi.Event) abi.Arguments {
	var out abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}
