package messenger

import (
	"context"
	"fmt"
	"sort"

	"crossbridge/types"

	"github.com/google/uuid"
)

type QueueRequest struct {
	ChainID  int64               `json:"chainId"`
	Priority types.QueuePriority `json:"priority"`
	MaxSize  int                 `json:"maxSize"`
}

// CreateQueue bounds the open messages bound for a chain. A chain without
// queues takes any number of messages; once it has queues, a message joins
// the highest priority one with room and is rejected when all are full.
func (m *Messenger) CreateQueue(ctx context.Context, req QueueRequest) (*types.MessageQueue, error) {
	chain, err := m.registry.Supported(req.ChainID)
	if err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = types.PriorityMedium
	}
	if !req.Priority.Valid() {
		return nil, types.NewError(types.KindInvalidArgument, "unknown queue priority %q", req.Priority)
	}
	if req.MaxSize <= 0 {
		return nil, types.NewError(types.KindInvalidArgument, "queue size must be positive, got %d", req.MaxSize)
	}
	q := &types.MessageQueue{
		QueueID:   uuid.New().String(),
		ChainID:   chain.ChainID,
		Priority:  req.Priority,
		MaxSize:   req.MaxSize,
		CreatedAt: m.now().Unix(),
	}
	if err := m.store.CreateQueue(ctx, q); err != nil {
		return nil, err
	}
	m.logs.Infow("message queue created", "queueId", q.QueueID, "chainId", q.ChainID, "priority", q.Priority, "maxSize", q.MaxSize)
	return q, nil
}

// Queues lists the queues of a chain, or of every chain for 0, highest
// priority first.
func (m *Messenger) Queues(ctx context.Context, chainID int64) ([]*types.MessageQueue, error) {
	all, err := m.store.ListQueues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.MessageQueue, 0, len(all))
	for _, q := range all {
		if chainID == 0 || q.ChainID == chainID {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.QueueID < b.QueueID
	})
	return out, nil
}

// QueuedMessages returns the open messages of a queue, oldest first.
func (m *Messenger) QueuedMessages(ctx context.Context, queueID string) ([]*types.BridgeMessage, error) {
	if _, err := m.store.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	open, err := m.openMessages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.BridgeMessage, 0)
	for _, msg := range open {
		if msg.QueueID == queueID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WindowStart() != out[j].WindowStart() {
			return out[i].WindowStart() < out[j].WindowStart()
		}
		return out[i].Nonce < out[j].Nonce
	})
	return out, nil
}

func (m *Messenger) openMessages(ctx context.Context) ([]*types.BridgeMessage, error) {
	var out []*types.BridgeMessage
	for _, status := range []types.MessageStatus{types.MessagePending, types.MessageInTransit} {
		msgs, err := m.store.ListMessages(ctx, status)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// assign picks the queue and relayer of a message about to be stored. The
// returned release must be called once it is stored, so queue sizes are
// counted and filled under one lock per chain.
func (m *Messenger) assign(ctx context.Context, msg *types.BridgeMessage) (func(), error) {
	release := m.locks.Lock(fmt.Sprintf("queues:%d", msg.TargetChain))
	queueID, err := m.pickQueue(ctx, msg.TargetChain)
	if err != nil {
		release()
		return nil, err
	}
	msg.QueueID = queueID

	if m.relayers != nil && msg.Relayer == "" {
		rel, err := m.relayers.Select(ctx, msg.TargetChain)
		switch {
		case err == nil:
			msg.Relayer = rel.RelayerID
		case types.KindOf(err) == types.KindNotFound:
			m.logs.Debugw("no relayer for message", "messageId", msg.MessageID, "targetChain", msg.TargetChain)
		default:
			m.logs.Warnw("error selecting relayer", "messageId", msg.MessageID, "targetChain", msg.TargetChain, "error", err)
		}
	}
	return release, nil
}

func (m *Messenger) pickQueue(ctx context.Context, chainID int64) (string, error) {
	queues, err := m.Queues(ctx, chainID)
	if err != nil || len(queues) == 0 {
		return "", err
	}
	open, err := m.openMessages(ctx)
	if err != nil {
		return "", err
	}
	sizes := make(map[string]int, len(queues))
	for _, msg := range open {
		if msg.QueueID != "" {
			sizes[msg.QueueID]++
		}
	}
	for _, q := range queues {
		if sizes[q.QueueID] < q.MaxSize {
			return q.QueueID, nil
		}
	}
	return "", types.NewError(types.KindInvalidArgument, "every message queue of chain %d is full", chainID)
}

// byPriority orders messages by the priority of their queue; unqueued
// messages go last and the input order is otherwise kept.
func (m *Messenger) byPriority(ctx context.Context, msgs []*types.BridgeMessage) ([]*types.BridgeMessage, error) {
	queues, err := m.store.ListQueues(ctx)
	if err != nil {
		return nil, err
	}
	if len(queues) == 0 {
		return msgs, nil
	}
	rank := make(map[string]int, len(queues))
	for _, q := range queues {
		rank[q.QueueID] = q.Priority.Rank()
	}
	rankOf := func(msg *types.BridgeMessage) int {
		if r, ok := rank[msg.QueueID]; ok {
			return r
		}
		return -1
	}
	sort.SliceStable(msgs, func(i, j int) bool { return rankOf(msgs[i]) > rankOf(msgs[j]) })
	return msgs, nil
}

func (m *Messenger) recordOutcome(ctx context.Context, msg *types.BridgeMessage, status types.MessageStatus) {
	if m.relayers == nil || msg.Relayer == "" {
		return
	}
	var delivered bool
	switch status {
	case types.MessageDelivered:
		delivered = true
	case types.MessageExpired:
	default:
		return
	}
	if err := m.relayers.RecordOutcome(ctx, msg.Relayer, delivered); err != nil {
		m.logs.Warnw("error recording relayer outcome", "messageId", msg.MessageID, "relayerId", msg.Relayer, "error", err)
	}
}
