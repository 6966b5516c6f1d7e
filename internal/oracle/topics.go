package oracle

import "github.com/ethereum/go-ethereum/common"

// Event topic signatures.
var (
	// NewReport(bytes32,uint256,bytes,uint256,bytes,address)
	TopicNewReport = common.HexToHash("0x48e9e2c732ba278de6ac88a3a57a5c5ba13d3d8370e709b3b98333a57876ca95")
	// NewDispute(uint256,bytes32,uint256,address,address,uint256,uint256,uint256,uint256)
	TopicNewDispute = common.HexToHash("0xfbfeca72a80efb0d1aabf7f937aaec719fa5c81548a4ade65b40ecdec0afca4e")
	// NewOracleAddress(address,uint256)
	TopicNewOracleAddress = common.HexToHash("0x31f30a38b53d085dbe09f68f490447e9032b29de8deb5aae4ccd3577a09ff284")
	// NewProposedOracleAddress(address,uint256)
	TopicNewProposedOracleAddress = common.HexToHash("0x8fe6b09081e9ffdaf91e337aba6769019098771106b34b194f1781b7db1bf42b")
)
