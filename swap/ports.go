package swap

import (
	"context"

	"crossbridge/types"
)

type Store interface {
	CreateSwap(ctx context.Context, sw *types.AtomicSwap) error
	GetSwap(ctx context.Context, id string) (*types.AtomicSwap, error)
	UpdateSwap(ctx context.Context, sw *types.AtomicSwap, prev types.SwapStatus) error
	ListSwaps(ctx context.Context, status types.SwapStatus) ([]*types.AtomicSwap, error)
	ListSwapsByUser(ctx context.Context, address string) ([]*types.AtomicSwap, error)
	CreateProposal(ctx context.Context, p *types.SwapProposal) error
	GetProposal(ctx context.Context, id string) (*types.SwapProposal, error)
	UpdateProposal(ctx context.Context, p *types.SwapProposal, prev types.ProposalStatus) error
	ListProposalsByUser(ctx context.Context, address string) ([]*types.SwapProposal, error)
}

// HTLC is the hash time-locked contract of each chain.
type HTLC interface {
	Lock(ctx context.Context, leg types.HTLCLeg) (string, error)
	Claim(ctx context.Context, chainID int64, swapID string, secret []byte) (string, error)
	Refund(ctx context.Context, chainID int64, swapID string) (string, error)
}
