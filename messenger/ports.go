package messenger

import (
	"context"

	"crossbridge/types"
)

// Store persists messages; updates must fail when the stored status is no
// longer prev.
type Store interface {
	NextNonce(ctx context.Context, sender string) (uint64, error)
	CreateMessage(ctx context.Context, m *types.BridgeMessage) error
	GetMessage(ctx context.Context, id string) (*types.BridgeMessage, error)
	UpdateMessage(ctx context.Context, m *types.BridgeMessage, prev types.MessageStatus) error
	ListMessages(ctx context.Context, status types.MessageStatus) ([]*types.BridgeMessage, error)
	ListMessagesByRecipient(ctx context.Context, recipient string) ([]*types.BridgeMessage, error)
	CreateQueue(ctx context.Context, q *types.MessageQueue) error
	GetQueue(ctx context.Context, id string) (*types.MessageQueue, error)
	ListQueues(ctx context.Context) ([]*types.MessageQueue, error)
}

// Relay submits a message to the bridge contract of its target chain and
// returns the submission transaction hash.
type Relay interface {
	RelayMessage(ctx context.Context, msg *types.BridgeMessage, gasPrice uint64) (string, error)
}

// Confirmer checks a transaction for success and finality.
type Confirmer interface {
	CheckTransaction(ctx context.Context, chainID int64, txHash string, expectedBlock uint64) (types.TxCheck, error)
}

// Pricer suggests a gas price for a chain when the caller gave none.
type Pricer interface {
	Predict(chainID int64) (uint64, error)
}

// Relayers picks the relayer accountable for a message and keeps its
// delivery record; *relayers.Registry satisfies it.
type Relayers interface {
	Select(ctx context.Context, chainID int64) (*types.Relayer, error)
	RecordOutcome(ctx context.Context, id string, delivered bool) error
}
