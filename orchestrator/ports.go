package orchestrator

import (
	"context"
	"crypto/ecdsa"

	"crossbridge/messenger"
	"crossbridge/types"
)

type Store interface {
	// CreateTransfer stores tr unless its id exists, returning the stored
	// record and whether it was created.
	CreateTransfer(ctx context.Context, tr *types.CrossChainTransfer) (*types.CrossChainTransfer, bool, error)
	GetTransfer(ctx context.Context, id string) (*types.CrossChainTransfer, error)
	UpdateTransfer(ctx context.Context, tr *types.CrossChainTransfer, prev types.TransferStatus) error
	ListTransfers(ctx context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error)
	SaveChainPreference(ctx context.Context, p types.ChainPreference) error
	GetChainPreference(ctx context.Context, address string) (*types.ChainPreference, error)
}

// Messenger carries the asset transfer message to the target chain.
type Messenger interface {
	Send(ctx context.Context, req messenger.SendRequest, key *ecdsa.PrivateKey) (*types.BridgeMessage, error)
	Process(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*types.BridgeMessage, error)
}

type GasOptimizer interface {
	Optimize(chainID int64, amount string, strategy types.GasStrategy, token string) (types.GasOptimizationResult, error)
}
