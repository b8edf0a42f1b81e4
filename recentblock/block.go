// Package recentblock implements a cache of values that are tied to the block
// they were read at, kept fresh relative to the chain head.
package recentblock

import (
	"errors"
	"fmt"
	"time"
)

// Block is either a specific block height or the most recent known height.
type Block struct {
	height uint64
	recent bool
}

// Recent is the most recent block known to the block stream.
func Recent() Block { return Block{recent: true} }

// Number is the block at height n.
func Number(n uint64) Block { return Block{height: n} }

func (b Block) IsRecent() bool { return b.recent }

// Height returns the height of a Number block. It is zero for Recent.
func (b Block) Height() uint64 { return b.height }

func (b Block) String() string {
	if b.recent {
		return "recent"
	}
	return fmt.Sprintf("%d", b.height)
}

// CacheConfig controls freshness, proactive refresh and retries.
type CacheConfig struct {
	// MaxAgeBlocks is how many blocks away from the requested block a cached
	// value may be before it is refetched.
	MaxAgeBlocks uint64 `yaml:"max_age_blocks"`
	// MaxRecentlyUsed is how many of the most recently requested keys are
	// refreshed on every maintenance run.
	MaxRecentlyUsed int `yaml:"max_recently_used"`
	// MaxRetries is how many times a failed fetch is retried.
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// MaxConcurrentFetches bounds the live fetches of one call.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxAgeBlocks:         5,
		MaxRecentlyUsed:      100,
		MaxRetries:           2,
		RetryDelay:           100 * time.Millisecond,
		MaxConcurrentFetches: 16,
	}
}

func (c *CacheConfig) validate() error {
	if c.MaxRecentlyUsed < 0 {
		return errors.New("config: MaxRecentlyUsed must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: MaxRetries must not be negative")
	}
	if c.RetryDelay < 0 {
		return errors.New("config: RetryDelay must not be negative")
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = DefaultCacheConfig().MaxConcurrentFetches
	}
	return nil
}
