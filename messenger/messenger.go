// Package messenger moves bridge messages between chains through the
// Pending -> InTransit -> Delivered state machine.
package messenger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"crossbridge/events"
	"crossbridge/hashing"
	"crossbridge/keylock"
	"crossbridge/metrics"
	"crossbridge/registry"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

type Messenger struct {
	registry  *registry.ChainRegistry
	store     Store
	confirmer Confirmer
	relay     Relay
	pricer    Pricer
	relayers  Relayers
	publisher events.Publisher
	metrics   *metrics.Metrics
	logs      *zap.SugaredLogger
	locks     *keylock.Locker
	now       func() time.Time
}

type Option func(*Messenger)

// WithRelay enables submission. Without a relay messages stay Pending.
func WithRelay(r Relay) Option {
	return func(m *Messenger) { m.relay = r }
}

func WithPricer(p Pricer) Option {
	return func(m *Messenger) { m.pricer = p }
}

// WithRelayers assigns every message to the best relayer of its target chain.
func WithRelayers(r Relayers) Option {
	return func(m *Messenger) { m.relayers = r }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Messenger) { m.publisher = p }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Messenger) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Messenger) { m.now = now }
}

func New(reg *registry.ChainRegistry, store Store, confirmer Confirmer, logs *zap.SugaredLogger, opts ...Option) *Messenger {
	m := &Messenger{
		registry:  reg,
		store:     store,
		confirmer: confirmer,
		logs:      logs,
		locks:     keylock.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type SendRequest struct {
	SourceChain int64
	TargetChain int64
	Recipient   string
	Type        types.MessageType
	Payload     []byte
	// GasPrice of 0 asks the pricer, then falls back to the target chain's base price.
	GasPrice uint64
}

// MessageID is H(be64(source) || be64(target) || sender || be64(nonce) || payload)
// with the source chain's hash.
func MessageID(h hashing.Hasher, source, target int64, sender string, nonce uint64, payload []byte) string {
	return h.Sum(
		hashing.Int64Bytes(source),
		hashing.Int64Bytes(target),
		common.HexToAddress(sender).Bytes(),
		hashing.Uint64Bytes(nonce),
		payload,
	).Hex()
}

// signingDigest is H(messageId || payload).
func signingDigest(h hashing.Hasher, messageID string, payload []byte) (hashing.Digest, error) {
	id, err := hashing.ParseDigest(messageID)
	if err != nil {
		return hashing.Digest{}, err
	}
	return h.Sum(id[:], payload), nil
}

func lockKey(id string) string {
	return "message:" + strings.ToLower(id)
}

// Send creates, signs and stores a message as Pending, then submits it.
// A failed submission keeps the message Pending and is returned together with it.
func (m *Messenger) Send(ctx context.Context, req SendRequest, key *ecdsa.PrivateKey) (*types.BridgeMessage, error) {
	if key == nil {
		return nil, types.NewError(types.KindUnauthorized, "a signing key is required")
	}
	source, err := m.registry.Supported(req.SourceChain)
	if err != nil {
		return nil, err
	}
	target, err := m.registry.Supported(req.TargetChain)
	if err != nil {
		return nil, err
	}
	if source.ChainID == target.ChainID {
		return nil, types.NewError(types.KindInvalidArgument, "source and target chain are both %d", source.ChainID)
	}
	if !req.Type.Valid() {
		return nil, types.NewError(types.KindInvalidArgument, "unknown message type %q", req.Type)
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, types.NewError(types.KindInvalidArgument, "recipient is required")
	}

	hasher, err := hashing.NewHasher(source.HashAlgorithm)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "chain %d", source.ChainID)
	}
	scheme, err := hashing.NewScheme(source.SignatureScheme)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "chain %d", source.ChainID)
	}

	sender := hashing.AddressOf(key).Hex()
	nonce, err := m.store.NextNonce(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("error allocating nonce: %w", err)
	}
	msg := &types.BridgeMessage{
		SourceChain: source.ChainID,
		TargetChain: target.ChainID,
		Sender:      sender,
		Recipient:   req.Recipient,
		Type:        req.Type,
		Payload:     append(hexutil.Bytes(nil), req.Payload...),
		Nonce:       nonce,
		Status:      types.MessagePending,
		CreatedAt:   m.now().Unix(),
		SubmittedAt: m.now().Unix(),
		GasPrice:    m.gasPrice(target, req.GasPrice),
	}
	msg.MessageID = MessageID(hasher, msg.SourceChain, msg.TargetChain, sender, nonce, msg.Payload)

	digest, err := signingDigest(hasher, msg.MessageID, msg.Payload)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "message id")
	}
	sig, err := scheme.Sign(digest, key)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "signing message")
	}
	msg.Signature = hexutil.Encode(sig)

	unlock := m.locks.Lock(lockKey(msg.MessageID))
	defer unlock()

	release, err := m.assign(ctx, msg)
	if err != nil {
		return nil, err
	}
	err = m.store.CreateMessage(ctx, msg)
	release()
	if err != nil {
		return nil, err
	}
	m.logs.Infow("message created", "messageId", msg.MessageID, "sourceChain", msg.SourceChain, "targetChain", msg.TargetChain, "nonce", nonce, "queueId", msg.QueueID, "relayerId", msg.Relayer)
	m.notify(ctx, msg)

	if m.relay == nil {
		return msg, nil
	}
	if err := m.submit(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// SendBatch sends requests in order so nonces follow the input. Every
// message that was stored is returned; failures are joined.
func (m *Messenger) SendBatch(ctx context.Context, reqs []SendRequest, key *ecdsa.PrivateKey) ([]*types.BridgeMessage, error) {
	out := make([]*types.BridgeMessage, 0, len(reqs))
	var errs []error
	for i, req := range reqs {
		msg, err := m.Send(ctx, req, key)
		if msg != nil {
			out = append(out, msg)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", i, err))
		}
	}
	return out, errors.Join(errs...)
}

func (m *Messenger) gasPrice(target types.ChainConfig, requested uint64) uint64 {
	if requested > 0 {
		return target.ClampGasPrice(requested)
	}
	if m.pricer != nil {
		price, err := m.pricer.Predict(target.ChainID)
		if err == nil && price > 0 {
			return price
		}
		m.logs.Debugw("no gas prediction, using base price", "chainId", target.ChainID, "error", err)
	}
	return target.BaseGasPrice
}

// submit relays a Pending message; the caller holds its lock.
func (m *Messenger) submit(ctx context.Context, msg *types.BridgeMessage) error {
	if m.relay == nil {
		return types.NewError(types.KindProviderUnavailable, "no relay configured")
	}
	txHash, err := m.relay.RelayMessage(ctx, msg, msg.GasPrice)
	msg.Attempts++
	if err != nil {
		msg.LastError = types.DetailOf(err)
		if uerr := m.store.UpdateMessage(ctx, msg, types.MessagePending); uerr != nil {
			m.logs.Errorw("error recording failed submission", "messageId", msg.MessageID, "error", uerr)
		}
		m.logs.Warnw("message submission failed", "messageId", msg.MessageID, "targetChain", msg.TargetChain, "attempts", msg.Attempts, "error", err)
		if types.KindOf(err) == types.KindInternal {
			return types.WrapError(types.KindProviderUnavailable, err, "submitting message %s", msg.MessageID)
		}
		return err
	}
	msg.SubmitTxHash = txHash
	msg.LastError = ""
	return m.move(ctx, msg, types.MessageInTransit)
}

// move persists a status change; the caller holds the message lock.
func (m *Messenger) move(ctx context.Context, msg *types.BridgeMessage, to types.MessageStatus) error {
	prev := msg.Status
	next, err := prev.Transition(to)
	if err != nil {
		return err
	}
	msg.Status = next
	if err := m.store.UpdateMessage(ctx, msg, prev); err != nil {
		msg.Status = prev
		return err
	}
	m.logs.Infow("message status changed", "messageId", msg.MessageID, "from", prev, "to", next)
	m.notify(ctx, msg)
	m.recordOutcome(ctx, msg, next)
	return nil
}

func (m *Messenger) notify(ctx context.Context, msg *types.BridgeMessage) {
	m.metrics.Transition(string(events.EntityMessage), string(msg.Status))
	events.Emit(ctx, m.publisher, m.logs,
		events.New(events.EntityMessage, msg.MessageID, msg.TargetChain, string(msg.Status), m.now(), msg))
}

func (m *Messenger) timeout(msg *types.BridgeMessage) time.Duration {
	c, err := m.registry.Get(msg.SourceChain)
	if err != nil {
		return types.DefaultTimeoutPeriod * time.Second
	}
	return c.TimeoutDuration()
}

// load reads a message and applies lazy expiry; the caller holds its lock.
func (m *Messenger) load(ctx context.Context, id string) (*types.BridgeMessage, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Expired(m.now(), m.timeout(msg)) {
		if err := m.move(ctx, msg, types.MessageExpired); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func (m *Messenger) Get(ctx context.Context, id string) (*types.BridgeMessage, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !msg.Expired(m.now(), m.timeout(msg)) {
		return msg, nil
	}
	unlock := m.locks.Lock(lockKey(id))
	defer unlock()
	return m.load(ctx, id)
}

// Process drives a message towards Delivered. It resubmits a Pending message
// and checks the relay transaction of an InTransit one. The result is false
// while delivery cannot be confirmed yet.
func (m *Messenger) Process(ctx context.Context, id string) (bool, error) {
	unlock := m.locks.Lock(lockKey(id))
	defer unlock()

	msg, err := m.load(ctx, id)
	if err != nil {
		return false, err
	}
	switch msg.Status {
	case types.MessageDelivered:
		return true, nil
	case types.MessagePending:
		if err := m.submit(ctx, msg); err != nil {
			return false, err
		}
	case types.MessageInTransit:
	default:
		return false, types.NewError(types.KindInvalidStateTransition, "message %s is %s", id, msg.Status)
	}

	check, err := m.confirmer.CheckTransaction(ctx, msg.TargetChain, msg.SubmitTxHash, 0)
	if err != nil {
		return false, err
	}
	if !check.Confirmed() {
		if check.Kind == types.ResultTransactionFailed && msg.LastError != check.Details {
			msg.LastError = check.Details
			if err := m.store.UpdateMessage(ctx, msg, msg.Status); err != nil {
				return false, err
			}
		}
		m.logs.Debugw("message not confirmed yet", "messageId", id, "kind", check.Kind, "details", check.Details)
		return false, nil
	}

	msg.ProcessedAt = m.now().Unix()
	msg.GasUsed = check.Receipt.GasUsed
	price := check.Receipt.EffectiveGasPrice
	if price == 0 {
		price = msg.GasPrice
	}
	msg.Fee = new(big.Int).Mul(new(big.Int).SetUint64(msg.GasUsed), new(big.Int).SetUint64(price)).String()
	if err := m.move(ctx, msg, types.MessageDelivered); err != nil {
		return false, err
	}
	return true, nil
}

// Verify checks an inbound message: both chains registered, not past the
// timeout, id consistent with its fields and signed by its sender.
func (m *Messenger) Verify(msg *types.BridgeMessage) error {
	source, err := m.registry.Supported(msg.SourceChain)
	if err != nil {
		return err
	}
	if _, err := m.registry.Supported(msg.TargetChain); err != nil {
		return err
	}
	if m.now().Sub(time.Unix(msg.CreatedAt, 0)) > source.TimeoutDuration() {
		return types.NewError(types.KindExpiredProof, "message %s is past its timeout", msg.MessageID)
	}
	hasher, err := hashing.NewHasher(source.HashAlgorithm)
	if err != nil {
		return types.WrapError(types.KindInternal, err, "chain %d", source.ChainID)
	}
	if !common.IsHexAddress(msg.Sender) {
		return types.NewError(types.KindInvalidSignature, "sender %q is not an address", msg.Sender)
	}
	want := MessageID(hasher, msg.SourceChain, msg.TargetChain, msg.Sender, msg.Nonce, msg.Payload)
	if !strings.EqualFold(want, msg.MessageID) {
		return types.NewError(types.KindInvalidSignature, "message id does not match its contents")
	}
	scheme, err := hashing.NewScheme(source.SignatureScheme)
	if err != nil {
		return types.WrapError(types.KindInternal, err, "chain %d", source.ChainID)
	}
	sig, err := hashing.DecodeSignature(msg.Signature)
	if err != nil {
		return types.WrapError(types.KindInvalidSignature, err, "message %s", msg.MessageID)
	}
	digest, err := signingDigest(hasher, msg.MessageID, msg.Payload)
	if err != nil {
		return types.WrapError(types.KindInvalidSignature, err, "message %s", msg.MessageID)
	}
	signer, err := scheme.Recover(digest, sig)
	if err != nil {
		return types.WrapError(types.KindInvalidSignature, err, "message %s", msg.MessageID)
	}
	if !types.SameAddress(signer.Hex(), msg.Sender) {
		return types.NewError(types.KindInvalidSignature, "message %s is not signed by %s", msg.MessageID, msg.Sender)
	}
	return nil
}

func (m *Messenger) Validate(msg *types.BridgeMessage) bool {
	return m.Verify(msg) == nil
}

func (m *Messenger) authorize(msg *types.BridgeMessage, key *ecdsa.PrivateKey) error {
	if key == nil || !types.SameAddress(hashing.AddressOf(key).Hex(), msg.Sender) {
		return types.NewError(types.KindUnauthorized, "only the sender of message %s may do this", msg.MessageID)
	}
	return nil
}

// Retry moves a Failed message back to Pending and submits it again.
func (m *Messenger) Retry(ctx context.Context, id string, key *ecdsa.PrivateKey) (*types.BridgeMessage, error) {
	unlock := m.locks.Lock(lockKey(id))
	defer unlock()

	msg, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(msg, key); err != nil {
		return nil, err
	}
	if msg.Status != types.MessageFailed {
		return nil, types.NewError(types.KindInvalidStateTransition, "message %s is %s, only failed messages can be retried", id, msg.Status)
	}
	msg.GasUsed = 0
	msg.Fee = ""
	msg.LastError = ""
	msg.SubmitTxHash = ""
	// a retry starts a new delivery window
	msg.SubmittedAt = m.now().Unix()
	msg.QueueID = ""
	release, err := m.assign(ctx, msg)
	if err != nil {
		return nil, err
	}
	err = m.move(ctx, msg, types.MessagePending)
	release()
	if err != nil {
		return nil, err
	}
	if m.relay == nil {
		return msg, nil
	}
	if err := m.submit(ctx, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Cancel fails a Pending message on behalf of its sender.
func (m *Messenger) Cancel(ctx context.Context, id string, key *ecdsa.PrivateKey) (*types.BridgeMessage, error) {
	unlock := m.locks.Lock(lockKey(id))
	defer unlock()

	msg, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(msg, key); err != nil {
		return nil, err
	}
	if msg.Status != types.MessagePending {
		return nil, types.NewError(types.KindInvalidStateTransition, "message %s is %s, only pending messages can be cancelled", id, msg.Status)
	}
	msg.LastError = "cancelled by sender"
	if err := m.move(ctx, msg, types.MessageFailed); err != nil {
		return nil, err
	}
	return msg, nil
}

// ExpirePending moves every open message past its timeout to Expired and
// returns how many were moved.
func (m *Messenger) ExpirePending(ctx context.Context) (int, error) {
	n := 0
	for _, status := range []types.MessageStatus{types.MessagePending, types.MessageInTransit} {
		msgs, err := m.store.ListMessages(ctx, status)
		if err != nil {
			return n, err
		}
		for _, msg := range msgs {
			if !msg.Expired(m.now(), m.timeout(msg)) {
				continue
			}
			expired, err := m.expire(ctx, msg.MessageID)
			if err != nil {
				return n, err
			}
			if expired {
				n++
			}
		}
	}
	return n, nil
}

func (m *Messenger) expire(ctx context.Context, id string) (bool, error) {
	unlock := m.locks.Lock(lockKey(id))
	defer unlock()
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return false, err
	}
	if !msg.Expired(m.now(), m.timeout(msg)) {
		return false, nil
	}
	return true, m.move(ctx, msg, types.MessageExpired)
}

func (m *Messenger) ListByRecipient(ctx context.Context, recipient string) ([]*types.BridgeMessage, error) {
	return m.store.ListMessagesByRecipient(ctx, recipient)
}

func (m *Messenger) ListByType(ctx context.Context, t types.MessageType) ([]*types.BridgeMessage, error) {
	all, err := m.store.ListMessages(ctx, "")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, msg := range all {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out, nil
}

// ListInTransit returns in-transit messages, those in higher priority queues
// first.
func (m *Messenger) ListInTransit(ctx context.Context) ([]*types.BridgeMessage, error) {
	msgs, err := m.store.ListMessages(ctx, types.MessageInTransit)
	if err != nil {
		return nil, err
	}
	return m.byPriority(ctx, msgs)
}
