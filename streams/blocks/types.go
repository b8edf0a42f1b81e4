package blocks

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Head is a new chain head announced by the node.
type Head struct {
	Number     uint64
	Hash       common.Hash
	Timestamp  uint64
	ReceivedAt int64
}

// rpcHeader is the subset of an eth_subscribe("newHeads") notification the
// tracker reads.
type rpcHeader struct {
	Number    *hexutil.Big   `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}
