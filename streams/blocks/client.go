package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	RpcNamespace           = "eth"
	NewHeadsSubscription   = "newHeads"
	BlockNumberMethod      = "eth_blockNumber"
	defaultInitialReadTime = 10 * time.Second
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DialFunc opens an RPC connection. rpc.DialContext is used when nil.
type DialFunc func(ctx context.Context, url string) (*rpc.Client, error)

// Config holds the configuration for the tracker.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
	Dial       DialFunc
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Dial == nil {
		c.Dial = rpc.DialContext
	}
	return nil
}

// -----------------------------------------------------------------------------
// HeadProcessor
// -----------------------------------------------------------------------------

// HeadProcessor parses head notifications and keeps the highest block seen.
// It is decoupled from the networking layer.
type HeadProcessor struct {
	current atomic.Uint64
	headCh  chan Head
	logger  Logger
}

func NewHeadProcessor(logger Logger, bufferSize uint) *HeadProcessor {
	return &HeadProcessor{
		logger: logger,
		headCh: make(chan Head, bufferSize),
	}
}

// Current returns the highest block number seen so far.
func (p *HeadProcessor) Current() uint64 {
	return p.current.Load()
}

// Heads returns the channel new heads are published on. Heads are dropped
// when the channel is full; Current is always up to date.
func (p *HeadProcessor) Heads() <-chan Head {
	return p.headCh
}

// Observe records block as seen. It reports false if block is not above the
// current height.
func (p *HeadProcessor) Observe(block uint64) bool {
	for {
		cur := p.current.Load()
		if block <= cur {
			return false
		}
		if p.current.CompareAndSwap(cur, block) {
			return true
		}
	}
}

// ProcessMessage accepts a raw newHeads notification.
func (p *HeadProcessor) ProcessMessage(raw json.RawMessage) error {
	var h rpcHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return fmt.Errorf("failed to unmarshal head: %w", err)
	}
	if h.Number == nil {
		return errors.New("head has no number")
	}
	number := h.Number.ToInt()
	if !number.IsUint64() {
		return fmt.Errorf("head number %s out of range", number)
	}

	head := Head{
		Number:     number.Uint64(),
		Hash:       h.Hash,
		Timestamp:  uint64(h.Timestamp),
		ReceivedAt: time.Now().UnixNano(),
	}
	if !p.Observe(head.Number) {
		// Reorgs and replays after a reconnect announce heights already seen.
		p.logger.Debug("Ignoring head at or below current height", "block", head.Number, "current", p.Current())
		return nil
	}

	select {
	case p.headCh <- head:
	default:
		p.logger.Warn("Head channel full, dropping head", "block", head.Number)
	}
	p.logger.Debug("Head Processed",
		"block", head.Number,
		"hash", head.Hash,
		"latency_ms", time.Since(time.Unix(int64(head.Timestamp), 0)).Milliseconds(),
	)
	return nil
}

// -----------------------------------------------------------------------------
// Tracker (Networking Wrapper)
// -----------------------------------------------------------------------------

// Tracker follows the chain head over a websocket subscription and
// reconnects with backoff when the connection drops.
type Tracker struct {
	processor *HeadProcessor
	dial      DialFunc
	url       string
	done      chan struct{}
	logger    Logger
}

// NewTracker reads the current block number, so Current is set before it
// returns, then follows new heads until ctx is done.
func NewTracker(ctx context.Context, cfg Config) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		processor: NewHeadProcessor(cfg.Logger, cfg.BufferSize),
		dial:      cfg.Dial,
		url:       cfg.URL,
		done:      make(chan struct{}),
		logger:    cfg.Logger,
	}

	readCtx, cancel := context.WithTimeout(ctx, defaultInitialReadTime)
	defer cancel()
	rpcClient, err := t.dial(readCtx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}
	var number hexutil.Uint64
	err = rpcClient.CallContext(readCtx, &number, BlockNumberMethod)
	rpcClient.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read block number: %w", err)
	}
	t.processor.Observe(uint64(number))
	t.logger.Info("Initial block number read", "block", uint64(number))

	go t.run(ctx)
	return t, nil
}

// Current returns the latest known block number.
func (t *Tracker) Current() uint64 {
	return t.processor.Current()
}

// Heads delegates to the processor's head channel.
func (t *Tracker) Heads() <-chan Head {
	return t.processor.Heads()
}

// Done is closed once the tracker has stopped.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// run handles the networking lifecycle and feeds data to the processor.
func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			t.logger.Info("Tracker context canceled, shutting down.")
			return
		}

		t.logger.Info("Attempting to connect to RPC server", "url", t.url)
		rpcClient, err := t.dial(ctx, t.url)
		if err != nil {
			t.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		t.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = t.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				t.logger.Info("Context canceled, shutting down.")
				return
			}
			t.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (t *Tracker) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, NewHeadsSubscription)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	t.logger.Info("Successfully subscribed. Waiting for heads...")
	for {
		select {
		case raw := <-rawCh:
			if err := t.processor.ProcessMessage(raw); err != nil {
				t.logger.Error("Error processing head", "error", err)
			}
		case err := <-sub.Err():
			if err == nil {
				return errors.New("subscription closed")
			}
			return err
		case <-ctx.Done():
			t.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
