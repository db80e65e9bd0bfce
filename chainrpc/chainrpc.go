// Package chainrpc defines the read side every chain client offers to the
// core and a pool that hands out the client of a chain.
package chainrpc

import (
	"context"
	"slices"
	"sync"

	"crossbridge/types"
)

// Client reads chain state. TransactionReceipt returns an error of kind
// NotFound when the transaction is unknown or not mined yet; every other
// failure is of kind ProviderUnavailable.
type Client interface {
	ChainID() int64
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, txHash string) (pending bool, err error)
	TransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
	LatestGasSample(ctx context.Context) (types.GasSample, error)
}

type Pool struct {
	mu      sync.RWMutex
	clients map[int64]Client
}

func NewPool(clients ...Client) *Pool {
	p := &Pool{clients: make(map[int64]Client, len(clients))}
	for _, c := range clients {
		p.clients[c.ChainID()] = c
	}
	return p
}

func (p *Pool) Add(c Client) {
	p.mu.Lock()
	p.clients[c.ChainID()] = c
	p.mu.Unlock()
}

func (p *Pool) For(chainID int64) (Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[chainID]
	if !ok {
		return nil, types.NewError(types.KindProviderUnavailable, "no client for chain %d", chainID)
	}
	return c, nil
}

// ChainIDs lists the chains with a client, ascending.
func (p *Pool) ChainIDs() []int64 {
	p.mu.RLock()
	ids := make([]int64, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Confirmations is the number of blocks on top of the one holding a transaction.
func Confirmations(current, included uint64) uint64 {
	if current < included {
		return 0
	}
	return current - included
}
