// Package contracts holds the ABIs of the Balancer V2 contracts we read from
// and thin typed wrappers around eth_call for each method we need.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultABIJSON = `[
  {"type":"function","name":"getPoolTokens","stateMutability":"view",
   "inputs":[{"name":"poolId","type":"bytes32"}],
   "outputs":[{"name":"tokens","type":"address[]"},{"name":"balances","type":"uint256[]"},{"name":"lastChangeBlock","type":"uint256"}]}
]`

const factoryABIJSON = `[
  {"type":"event","name":"PoolCreated","anonymous":false,
   "inputs":[{"name":"pool","type":"address","indexed":true}]}
]`

// poolABIJSON is the union of the base, weighted and stable pool methods.
const poolABIJSON = `[
  {"type":"function","name":"getPoolId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getSwapFeePercentage","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getPausedState","stateMutability":"view","inputs":[],
   "outputs":[{"name":"paused","type":"bool"},{"name":"pauseWindowEndTime","type":"uint256"},{"name":"bufferPeriodEndTime","type":"uint256"}]},
  {"type":"function","name":"getNormalizedWeights","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getAmplificationParameter","stateMutability":"view","inputs":[],
   "outputs":[{"name":"value","type":"uint256"},{"name":"isUpdating","type":"bool"},{"name":"precision","type":"uint256"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]}
]`

var (
	VaultABI   = mustParse(vaultABIJSON)
	FactoryABI = mustParse(factoryABIJSON)
	PoolABI    = mustParse(poolABIJSON)
	ERC20ABI   = mustParse(erc20ABIJSON)

	// PoolCreatedTopic is topic0 of the factories' PoolCreated(address) event.
	PoolCreatedTopic = FactoryABI.Events["PoolCreated"].ID
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
