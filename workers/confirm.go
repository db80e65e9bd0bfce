package workers

import (
	"context"
	"time"

	"crossbridge/types"

	"go.uber.org/zap"
)

type MessageProcessor interface {
	ListInTransit(ctx context.Context) ([]*types.BridgeMessage, error)
	Process(ctx context.Context, id string) (bool, error)
}

type TransferCompleter interface {
	ListTransfers(ctx context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error)
	Complete(ctx context.Context, id string) (*types.CrossChainTransfer, error)
}

// MessageConfirmer polls the relay transactions of in-transit messages and
// then settles the transfers riding on them. Failed messages are not retried.
type MessageConfirmer struct {
	messages  MessageProcessor
	transfers TransferCompleter
	interval  time.Duration
	logs      *zap.SugaredLogger
}

func NewMessageConfirmer(messages MessageProcessor, transfers TransferCompleter, interval time.Duration, logs *zap.SugaredLogger) *MessageConfirmer {
	return &MessageConfirmer{messages: messages, transfers: transfers, interval: interval, logs: logs}
}

// ConfirmOnce runs one pass and reports how many messages were delivered and
// how many transfers reached a terminal status.
func (c *MessageConfirmer) ConfirmOnce(ctx context.Context) (delivered, settled int) {
	inTransit, err := c.messages.ListInTransit(ctx)
	if err != nil {
		c.logs.Errorw("Error listing in-transit messages", "error", err)
	}
	for _, msg := range inTransit {
		if ctx.Err() != nil {
			return delivered, settled
		}
		ok, err := c.messages.Process(ctx, msg.MessageID)
		if err != nil {
			c.logs.Warnw("Error processing message", "messageId", msg.MessageID, "error", err)
			continue
		}
		if ok {
			delivered++
		}
	}

	if c.transfers == nil {
		return delivered, settled
	}
	inProgress, err := c.transfers.ListTransfers(ctx, types.TransferInProgress)
	if err != nil {
		c.logs.Errorw("Error listing in-progress transfers", "error", err)
		return delivered, settled
	}
	for _, tr := range inProgress {
		if ctx.Err() != nil {
			break
		}
		done, err := c.transfers.Complete(ctx, tr.TransferID)
		if err != nil {
			c.logs.Warnw("Error completing transfer", "transferId", tr.TransferID, "error", err)
			continue
		}
		if done.Status.Terminal() {
			settled++
		}
	}
	return delivered, settled
}

// Worker_confirmMessages runs ConfirmOnce on the interval until ctx ends.
func Worker_confirmMessages(ctx context.Context, c *MessageConfirmer) error {
	c.logs.Infow("Starting message confirmer", "interval", c.interval)
	return every(ctx, c.interval, func(ctx context.Context) {
		delivered, settled := c.ConfirmOnce(ctx)
		if delivered > 0 || settled > 0 {
			c.logs.Infow("confirmation pass", "delivered", delivered, "settledTransfers", settled)
		}
	})
}
