package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"crossbridge/metrics"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Backend is the part of *ethclient.Client the bridge uses.
type Backend interface {
	bind.ContractBackend
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

type DialFunc func(ctx context.Context, url string) (Backend, error)

func dialEthclient(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

// Client talks to one EVM chain through its RPC list, failing over in order.
type Client struct {
	chain   types.ChainConfig
	logs    *zap.SugaredLogger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	dial    DialFunc

	mu      sync.Mutex
	backend map[string]Backend
}

type Option func(*Client)

func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(chain types.ChainConfig, logs *zap.SugaredLogger, opts ...Option) (*Client, error) {
	if chain.Kind != types.ChainKindEVM {
		return nil, fmt.Errorf("chain %d is not an evm chain", chain.ChainID)
	}
	if len(chain.RPCList()) == 0 {
		return nil, fmt.Errorf("chain %d has no rpc endpoints", chain.ChainID)
	}
	limit := rate.Inf
	if chain.RequestsPerSecond > 0 {
		limit = rate.Limit(chain.RequestsPerSecond)
	}
	c := &Client{
		chain:   chain,
		logs:    logs,
		limiter: rate.NewLimiter(limit, 1+int(chain.RequestsPerSecond)),
		dial:    dialEthclient,
		backend: make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ChainID() int64 {
	return c.chain.ChainID
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, b := range c.backend {
		b.Close()
		delete(c.backend, url)
	}
}

func (c *Client) connect(ctx context.Context, url string) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backend[url]; ok {
		return b, nil
	}
	b, err := c.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	c.backend[url] = b
	return b, nil
}

func (c *Client) drop(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.backend[url]; ok {
		b.Close()
		delete(c.backend, url)
	}
}

// isFinal reports errors another endpoint would answer the same way.
func isFinal(err error) bool {
	return errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// WithClient runs f against each endpoint of the chain's RPC list until one
// succeeds. Errors that every endpoint would repeat stop the failover early.
func WithClient[T any](ctx context.Context, c *Client, method string, f func(ctx context.Context, b Backend) (T, error)) (res T, err error) {
	ctx, span := otel.Tracer("crossbridge/EVMRPC").Start(ctx, "evm."+method)
	defer span.End()
	span.SetAttributes(attribute.Int64("chain.id", c.chain.ChainID))

	started := time.Now()
	defer func() { c.metrics.ObserveRPC(c.chain.ChainID, method, started, err) }()

	for _, url := range c.chain.RPCList() {
		if err = c.limiter.Wait(ctx); err != nil {
			break
		}
		var b Backend
		b, err = c.connect(ctx, url)
		if err != nil {
			c.logs.Warnw("error connecting to rpc", "chainId", c.chain.ChainID, "url", url, "error", err)
			continue
		}
		res, err = f(ctx, b)
		if err == nil || isFinal(err) {
			break
		}
		c.logs.Warnw("rpc call failed, trying next endpoint", "chainId", c.chain.ChainID, "method", method, "url", url, "error", err)
		c.drop(url)
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func unavailable(chainID int64, method string, err error) error {
	return types.WrapError(types.KindProviderUnavailable, err, "chain %d %s", chainID, method)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := WithClient(ctx, c, "eth_blockNumber", func(ctx context.Context, b Backend) (uint64, error) {
		return b.BlockNumber(ctx)
	})
	if err != nil {
		return 0, unavailable(c.chain.ChainID, "eth_blockNumber", err)
	}
	return n, nil
}

func (c *Client) TransactionByHash(ctx context.Context, txHash string) (bool, error) {
	pending, err := WithClient(ctx, c, "eth_getTransactionByHash", func(ctx context.Context, b Backend) (bool, error) {
		_, pending, err := b.TransactionByHash(ctx, common.HexToHash(txHash))
		return pending, err
	})
	if errors.Is(err, ethereum.NotFound) {
		return false, types.NewError(types.KindNotFound, "transaction %s not found on chain %d", txHash, c.chain.ChainID)
	}
	if err != nil {
		return false, unavailable(c.chain.ChainID, "eth_getTransactionByHash", err)
	}
	return pending, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	r, err := WithClient(ctx, c, "eth_getTransactionReceipt", func(ctx context.Context, b Backend) (*ethtypes.Receipt, error) {
		return b.TransactionReceipt(ctx, common.HexToHash(txHash))
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, types.NewError(types.KindNotFound, "no receipt for %s on chain %d", txHash, c.chain.ChainID)
	}
	if err != nil {
		return nil, unavailable(c.chain.ChainID, "eth_getTransactionReceipt", err)
	}
	return toReceipt(r), nil
}

func toReceipt(r *ethtypes.Receipt) *types.Receipt {
	out := &types.Receipt{
		TxHash:  r.TxHash.Hex(),
		Success: r.Status == ethtypes.ReceiptStatusSuccessful,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = r.EffectiveGasPrice.Uint64()
	}
	return out
}

type gasReading struct {
	header *ethtypes.Header
	price  *big.Int
}

// LatestGasSample reads the head block and the node's suggested price.
func (c *Client) LatestGasSample(ctx context.Context) (types.GasSample, error) {
	g, err := WithClient(ctx, c, "gas_sample", func(ctx context.Context, b Backend) (gasReading, error) {
		h, err := b.HeaderByNumber(ctx, nil)
		if err != nil {
			return gasReading{}, err
		}
		p, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return gasReading{}, err
		}
		return gasReading{header: h, price: p}, nil
	})
	if err != nil {
		return types.GasSample{}, unavailable(c.chain.ChainID, "gas_sample", err)
	}

	s := types.GasSample{
		Timestamp:   int64(g.header.Time),
		GasPrice:    g.price.Uint64(),
		BlockNumber: g.header.Number.Uint64(),
	}
	if g.header.BaseFee != nil {
		s.BaseFee = g.header.BaseFee.Uint64()
	}
	if g.header.GasLimit > 0 {
		s.Utilization = float64(g.header.GasUsed) / float64(g.header.GasLimit)
	}
	return s, nil
}
