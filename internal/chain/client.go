package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Config controls client connection and call behavior.
type Config struct {
	RPCURL         string
	RequestTimeout time.Duration
	MaxBatchBlocks uint64
	PacingDelay    time.Duration
	Retry          RetryPolicy
	Logger         *zap.Logger
}

// Client wraps go-ethereum RPC with retry, request pacing, and a block
// timestamp cache. All methods are safe for concurrent use.
type Client struct {
	rpcClient      *rpc.Client
	ethClient      *ethclient.Client
	retry          RetryPolicy
	requestTimeout time.Duration
	maxBatchBlocks uint64
	pacing         time.Duration
	logger         *zap.Logger

	tsMu    sync.RWMutex
	tsCache map[uint64]uint64

	paceMu   sync.Mutex
	lastCall time.Time
}

// NewClient dials the RPC URL and returns a ready client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := cfg.Retry
	if retry.Logger == nil {
		retry.Logger = logger
	}

	return &Client{
		rpcClient:      rpcClient,
		ethClient:      ethclient.NewClient(rpcClient),
		retry:          retry,
		requestTimeout: cfg.RequestTimeout,
		maxBatchBlocks: cfg.MaxBatchBlocks,
		pacing:         cfg.PacingDelay,
		logger:         logger,
		tsCache:        make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// pace delays the caller so consecutive RPC calls stay at least PacingDelay
// apart. Callers queue on the pacing mutex, which is the point.
func (c *Client) pace(ctx context.Context) error {
	if c.pacing <= 0 {
		return nil
	}
	c.paceMu.Lock()
	defer c.paceMu.Unlock()

	if wait := c.pacing - time.Since(c.lastCall); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastCall = time.Now()
	return nil
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := c.retry.Run(ctx, "eth_chainId", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		id, err := c.ethClient.ChainID(ctx)
		if err != nil {
			return classifyRPC("eth_chainId", err)
		}
		out = id
		return nil
	})
	return out, err
}

// LatestBlock returns the latest block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var out uint64
	err := c.retry.Run(ctx, "eth_blockNumber", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		n, err := c.ethClient.BlockNumber(ctx)
		if err != nil {
			return classifyRPC("eth_blockNumber", err)
		}
		out = n
		return nil
	})
	return out, err
}

// BlockTimestamp returns the block timestamp, using an in-memory cache so a
// block's header is fetched at most once.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.tsMu.RLock()
	ts, ok := c.tsCache[number]
	c.tsMu.RUnlock()
	if ok {
		return ts, nil
	}

	err := c.retry.Run(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return classifyRPC("eth_getBlockByNumber", err)
		}
		ts = header.Time
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.tsMu.Lock()
	c.tsCache[number] = ts
	c.tsMu.Unlock()
	return ts, nil
}

// HasCode reports whether addr holds contract code at the given block.
func (c *Client) HasCode(ctx context.Context, addr common.Address, block uint64) (bool, error) {
	var out bool
	err := c.retry.Run(ctx, "eth_getCode", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		code, err := c.ethClient.CodeAt(ctx, addr, new(big.Int).SetUint64(block))
		if err != nil {
			return classifyRPC("eth_getCode", err)
		}
		out = len(code) > 0
		return nil
	})
	return out, err
}

// FilterLogs returns logs in [fromBlock, toBlock] matching the address and
// positional topic filters. Ranges wider than MaxBatchBlocks are refused
// without touching the node.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topics [][]common.Hash,
) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, &PermanentError{Op: "eth_getLogs", Err: fmt.Errorf("invalid range %d-%d", fromBlock, toBlock)}
	}
	if c.maxBatchBlocks > 0 && toBlock-fromBlock+1 > c.maxBatchBlocks {
		return nil, &PermanentError{
			Op:  "eth_getLogs",
			Err: fmt.Errorf("range %d-%d exceeds %d blocks", fromBlock, toBlock, c.maxBatchBlocks),
		}
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    topics,
	}

	var out []types.Log
	err := c.retry.Run(ctx, "eth_getLogs", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		logs, err := c.ethClient.FilterLogs(ctx, query)
		if err != nil {
			return classifyRPC("eth_getLogs", err)
		}
		out = logs
		return nil
	})
	return out, err
}

// TransactionReceipt returns the receipt for a transaction hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var out *types.Receipt
	err := c.retry.Run(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
		if err != nil {
			return classifyRPC("eth_getTransactionReceipt", err)
		}
		out = receipt
		return nil
	})
	return out, err
}

// NonceAt returns the account nonce at the given block.
func (c *Client) NonceAt(ctx context.Context, addr common.Address, block uint64) (uint64, error) {
	var out uint64
	err := c.retry.Run(ctx, "eth_getTransactionCount", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		nonce, err := c.ethClient.NonceAt(ctx, addr, new(big.Int).SetUint64(block))
		if err != nil {
			return classifyRPC("eth_getTransactionCount", err)
		}
		out = nonce
		return nil
	})
	return out, err
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.retry.Run(ctx, "eth_call", func(ctx context.Context) error {
		if err := c.pace(ctx); err != nil {
			return err
		}
		ctx, cancel := c.callCtx(ctx)
		defer cancel()
		resp, err := c.ethClient.CallContract(ctx, msg, blockNumber)
		if err != nil {
			return classifyRPC("eth_call", err)
		}
		out = resp
		return nil
	})
	return out, err
}
