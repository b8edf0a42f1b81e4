package balancer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment is where the Balancer V2 contracts live on one chain.
type Deployment struct {
	Vault      common.Address
	VaultBlock uint64
	Factories  []FactoryDeployment
}

// FactoryDeployment is one pool factory and the block it was deployed at.
type FactoryDeployment struct {
	Name    string
	Address common.Address
	Kind    PoolKind
	Block   uint64
}

// Names of the three factory registries.
const (
	WeightedFactory         = "weighted"
	WeightedTwoTokenFactory = "weighted2token"
	StableFactory           = "stable"
)

var deployments = map[uint64]Deployment{
	// mainnet
	1: {
		Vault:      common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8"),
		VaultBlock: 12272146,
		Factories: []FactoryDeployment{
			{Name: WeightedFactory, Kind: Weighted, Address: common.HexToAddress("0x8E9aa87E45e92bad84D5F8DD1bff34Fb92637dE9"), Block: 12272147},
			{Name: WeightedTwoTokenFactory, Kind: Weighted, Address: common.HexToAddress("0xA5bf2ddF098bb0Ef6d120C98217dD6B141c74EE0"), Block: 12349891},
			{Name: StableFactory, Kind: Stable, Address: common.HexToAddress("0xc66Ba2B6595D3613CCab350C886aCE23866EDe24"), Block: 12703127},
		},
	},
	// goerli
	5: {
		Vault:      common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8"),
		VaultBlock: 4648099,
		Factories: []FactoryDeployment{
			{Name: WeightedFactory, Kind: Weighted, Address: common.HexToAddress("0x8E9aa87E45e92bad84D5F8DD1bff34Fb92637dE9"), Block: 4648101},
			{Name: WeightedTwoTokenFactory, Kind: Weighted, Address: common.HexToAddress("0xA5bf2ddF098bb0Ef6d120C98217dD6B141c74EE0"), Block: 4716924},
			{Name: StableFactory, Kind: Stable, Address: common.HexToAddress("0x44afeb87c871D8fEA9398a026DeA2BD3A13F5769"), Block: 5822183},
		},
	},
}

// DeploymentFor returns the known deployment of chainID.
func DeploymentFor(chainID uint64) (Deployment, error) {
	d, ok := deployments[chainID]
	if !ok {
		return Deployment{}, fmt.Errorf("no balancer deployment known for chain %d", chainID)
	}
	return d, nil
}
