// Package tokenpoolregistry indexes which pools connect which tokens.
package tokenpoolregistry

import (
	"github.com/ethereum/go-ethereum/common"
)

// TokenPoolRegistry stores the token/pool relationship as a graph: every pool
// adds an edge between each pair of its tokens (a clique), and every edge
// lists the pools that connect its two tokens.
//
// It is not safe for concurrent mutation. Owners that need concurrent readers
// are expected to treat a registry as immutable once published and use Clone
// to build the next version.
type TokenPoolRegistry struct {
	tokenToIndex map[common.Address]int
	poolToIndex  map[common.Hash]int

	tokens      []common.Address
	pools       []common.Hash
	adjacency   [][]int
	edgeTargets []int
	edgePools   [][]int
}

// NewTokenPoolRegistry creates an empty registry.
func NewTokenPoolRegistry() *TokenPoolRegistry {
	return &TokenPoolRegistry{
		tokenToIndex: make(map[common.Address]int),
		poolToIndex:  make(map[common.Hash]int),
	}
}

func (r *TokenPoolRegistry) tokenIndex(token common.Address) int {
	idx, exists := r.tokenToIndex[token]
	if !exists {
		idx = len(r.tokens)
		r.tokens = append(r.tokens, token)
		r.tokenToIndex[token] = idx
		r.adjacency = append(r.adjacency, nil)
	}
	return idx
}

// addEdge creates or updates the directed edge from -> to, associating it
// with poolIndex.
func (r *TokenPoolRegistry) addEdge(from, to common.Address, poolIndex int) {
	fromIndex := r.tokenIndex(from)
	toIndex := r.tokenIndex(to)

	for _, edgeIndex := range r.adjacency[fromIndex] {
		if r.edgeTargets[edgeIndex] != toIndex {
			continue
		}
		for _, existing := range r.edgePools[edgeIndex] {
			if existing == poolIndex {
				return
			}
		}
		r.edgePools[edgeIndex] = append(r.edgePools[edgeIndex], poolIndex)
		return
	}

	newEdgeIndex := len(r.edgeTargets)
	r.edgeTargets = append(r.edgeTargets, toIndex)
	r.edgePools = append(r.edgePools, []int{poolIndex})
	r.adjacency[fromIndex] = append(r.adjacency[fromIndex], newEdgeIndex)
}

// Add connects all tokens of pool with each other. Adding the same pool
// twice is a no-op.
func (r *TokenPoolRegistry) Add(pool common.Hash, tokens []common.Address) {
	poolIndex, exists := r.poolToIndex[pool]
	if !exists {
		poolIndex = len(r.pools)
		r.pools = append(r.pools, pool)
		r.poolToIndex[pool] = poolIndex
	}
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			r.addEdge(tokens[i], tokens[j], poolIndex)
			r.addEdge(tokens[j], tokens[i], poolIndex)
		}
	}
}

// PoolsForPair returns the pools holding both a and b.
func (r *TokenPoolRegistry) PoolsForPair(a, b common.Address) []common.Hash {
	fromIndex, ok := r.tokenToIndex[a]
	if !ok {
		return nil
	}
	toIndex, ok := r.tokenToIndex[b]
	if !ok {
		return nil
	}
	for _, edgeIndex := range r.adjacency[fromIndex] {
		if r.edgeTargets[edgeIndex] != toIndex {
			continue
		}
		out := make([]common.Hash, 0, len(r.edgePools[edgeIndex]))
		for _, poolIndex := range r.edgePools[edgeIndex] {
			out = append(out, r.pools[poolIndex])
		}
		return out
	}
	return nil
}

// Len returns the number of pools in the registry.
func (r *TokenPoolRegistry) Len() int {
	return len(r.pools)
}

// Clone returns a deep copy that shares no memory with r.
func (r *TokenPoolRegistry) Clone() *TokenPoolRegistry {
	c := &TokenPoolRegistry{
		tokenToIndex: make(map[common.Address]int, len(r.tokenToIndex)),
		poolToIndex:  make(map[common.Hash]int, len(r.poolToIndex)),
		tokens:       append([]common.Address(nil), r.tokens...),
		pools:        append([]common.Hash(nil), r.pools...),
		adjacency:    make([][]int, len(r.adjacency)),
		edgeTargets:  append([]int(nil), r.edgeTargets...),
		edgePools:    make([][]int, len(r.edgePools)),
	}
	for k, v := range r.tokenToIndex {
		c.tokenToIndex[k] = v
	}
	for k, v := range r.poolToIndex {
		c.poolToIndex[k] = v
	}
	for i, adj := range r.adjacency {
		if adj != nil {
			c.adjacency[i] = append([]int(nil), adj...)
		}
	}
	for i, pools := range r.edgePools {
		if pools != nil {
			c.edgePools[i] = append([]int(nil), pools...)
		}
	}
	return c
}
