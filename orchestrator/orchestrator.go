// Package orchestrator coordinates a single asset transfer from initiation
// to confirmed delivery on the target chain.
package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"crossbridge/address"
	"crossbridge/events"
	"crossbridge/hashing"
	"crossbridge/keylock"
	"crossbridge/messenger"
	"crossbridge/metrics"
	"crossbridge/registry"
	"crossbridge/types"

	"go.uber.org/zap"
)

type Orchestrator struct {
	registry  *registry.ChainRegistry
	store     Store
	messenger Messenger
	gas       GasOptimizer
	key       *ecdsa.PrivateKey
	publisher events.Publisher
	metrics   *metrics.Metrics
	logs      *zap.SugaredLogger
	locks     *keylock.Locker
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator that signs transfer messages with the relayer key.
func New(reg *registry.ChainRegistry, store Store, msgr Messenger, gas GasOptimizer, relayerKey *ecdsa.PrivateKey, logs *zap.SugaredLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		store:     store,
		messenger: msgr,
		gas:       gas,
		key:       relayerKey,
		logs:      logs,
		locks:     keylock.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type InitiateRequest struct {
	TransferID   string `json:"transferId"`
	FromChain    int64  `json:"fromChain"`
	ToChain      int64  `json:"toChain"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress,omitempty"`
}

// transferPayload is the body of the AssetTransfer message.
type transferPayload struct {
	TransferID   string `json:"transferId"`
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress,omitempty"`
	ProofHash    string `json:"proofHash"`
}

func lockKey(id string) string {
	return "transfer:" + id
}

// ProofHash is H(transferId || be64(from) || be64(to) || recipient || amount || be64(timestamp)).
func ProofHash(h hashing.Hasher, tr *types.CrossChainTransfer) string {
	return h.Sum(
		[]byte(tr.TransferID),
		hashing.Int64Bytes(tr.FromChain),
		hashing.Int64Bytes(tr.ToChain),
		[]byte(tr.Recipient),
		[]byte(tr.Amount),
		hashing.Int64Bytes(tr.Timestamp),
	).Hex()
}

func checkAmount(amount string) error {
	r, ok := new(big.Rat).SetString(amount)
	if !ok || r.Sign() <= 0 {
		return types.NewError(types.KindInvalidArgument, "amount %q must be a positive decimal", amount)
	}
	return nil
}

func (o *Orchestrator) checkRequest(req *InitiateRequest) (from, to types.ChainConfig, err error) {
	req.TransferID = strings.TrimSpace(req.TransferID)
	req.Amount = strings.TrimSpace(req.Amount)
	if req.TransferID == "" {
		return from, to, types.NewError(types.KindInvalidArgument, "transferId is required")
	}
	if from, err = o.registry.Supported(req.FromChain); err != nil {
		return from, to, err
	}
	if to, err = o.registry.Supported(req.ToChain); err != nil {
		return from, to, err
	}
	if from.ChainID == to.ChainID {
		return from, to, types.NewError(types.KindInvalidArgument, "source and target chain are both %d", from.ChainID)
	}
	if err = address.Validate(from.Kind, req.Sender); err != nil {
		return from, to, err
	}
	if err = address.Validate(to.Kind, req.Recipient); err != nil {
		return from, to, err
	}
	if req.TokenAddress != "" {
		if from.Kind != types.ChainKindEVM {
			return from, to, types.NewError(types.KindInvalidArgument, "chain %d has no token contracts", from.ChainID)
		}
		if err = address.Validate(types.ChainKindEVM, req.TokenAddress); err != nil {
			return from, to, err
		}
		req.TokenAddress = address.Normalize(types.ChainKindEVM, req.TokenAddress)
	}
	if err = checkAmount(req.Amount); err != nil {
		return from, to, err
	}
	req.Sender = address.Normalize(from.Kind, req.Sender)
	req.Recipient = address.Normalize(to.Kind, req.Recipient)
	return from, to, nil
}

// Initiate stores a pending transfer and sends its AssetTransfer message.
// Initiating an existing transferId returns the stored transfer unchanged.
// A failed submission is returned together with the stored transfer.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*types.CrossChainTransfer, error) {
	from, to, err := o.checkRequest(&req)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(lockKey(req.TransferID))
	defer unlock()

	if existing, err := o.store.GetTransfer(ctx, req.TransferID); err == nil {
		o.logs.Debugw("transfer already initiated", "transferId", req.TransferID, "status", existing.Status)
		return existing, nil
	} else if types.KindOf(err) != types.KindNotFound {
		return nil, err
	}

	opt, err := o.gas.Optimize(to.ChainID, req.Amount, types.StrategyBalanced, req.TokenAddress)
	if err != nil {
		return nil, err
	}
	hasher, err := hashing.NewHasher(from.HashAlgorithm)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "chain %d", from.ChainID)
	}

	now := o.now().Unix()
	tr := &types.CrossChainTransfer{
		TransferID:   req.TransferID,
		FromChain:    from.ChainID,
		ToChain:      to.ChainID,
		Sender:       req.Sender,
		Recipient:    req.Recipient,
		Amount:       req.Amount,
		TokenAddress: req.TokenAddress,
		Timestamp:    now,
		Status:       types.TransferPending,
		GasPrice:     opt.GasPrice,
		UpdatedAt:    now,
	}
	tr.ProofHash = ProofHash(hasher, tr)

	stored, created, err := o.store.CreateTransfer(ctx, tr)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, nil
	}
	o.logs.Infow("transfer initiated", "transferId", tr.TransferID, "fromChain", tr.FromChain, "toChain", tr.ToChain, "amount", tr.Amount, "gasPrice", tr.GasPrice)
	o.notify(ctx, tr)

	if err := o.send(ctx, tr); err != nil {
		return tr, err
	}
	return tr, nil
}

// send submits the transfer message and records its id; the caller holds the lock.
func (o *Orchestrator) send(ctx context.Context, tr *types.CrossChainTransfer) error {
	payload, err := json.Marshal(transferPayload{
		TransferID:   tr.TransferID,
		Sender:       tr.Sender,
		Recipient:    tr.Recipient,
		Amount:       tr.Amount,
		TokenAddress: tr.TokenAddress,
		ProofHash:    tr.ProofHash,
	})
	if err != nil {
		return types.WrapError(types.KindInternal, err, "encoding transfer payload")
	}
	msg, sendErr := o.messenger.Send(ctx, messenger.SendRequest{
		SourceChain: tr.FromChain,
		TargetChain: tr.ToChain,
		Recipient:   tr.Recipient,
		Type:        types.MessageAssetTransfer,
		Payload:     payload,
		GasPrice:    tr.GasPrice,
	}, o.key)

	if msg != nil {
		tr.MessageID = msg.MessageID
	}
	tr.Message = ""
	if sendErr != nil {
		tr.Message = types.DetailOf(sendErr)
		o.logs.Warnw("error sending transfer message", "transferId", tr.TransferID, "messageId", tr.MessageID, "error", sendErr)
	}
	tr.UpdatedAt = o.now().Unix()
	if err := o.store.UpdateTransfer(ctx, tr, tr.Status); err != nil {
		return err
	}
	return sendErr
}

// Complete confirms the transfer's message on the target chain. The transfer
// completes once the message is delivered and fails when the message failed
// or expired. While delivery is still unconfirmed it stays in_progress.
func (o *Orchestrator) Complete(ctx context.Context, id string) (*types.CrossChainTransfer, error) {
	unlock := o.locks.Lock(lockKey(id))
	defer unlock()

	tr, err := o.store.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if tr.Status.Terminal() {
		return nil, types.NewError(types.KindInvalidStateTransition, "transfer %s is already %s", id, tr.Status)
	}
	if tr.MessageID == "" {
		if err := o.send(ctx, tr); err != nil {
			return tr, err
		}
	}
	if tr.Status == types.TransferPending {
		if err := o.move(ctx, tr, types.TransferInProgress); err != nil {
			return nil, err
		}
	}

	delivered, err := o.messenger.Process(ctx, tr.MessageID)
	if types.KindOf(err) == types.KindInvalidStateTransition {
		// the message moved under us; only its own state decides the transfer
		msg, gerr := o.messenger.Get(ctx, tr.MessageID)
		if gerr != nil {
			return tr, gerr
		}
		switch msg.Status {
		case types.MessageFailed, types.MessageExpired:
			tr.Message = "message " + msg.MessageID + " is " + string(msg.Status)
			if msg.LastError != "" {
				tr.Message += ": " + msg.LastError
			}
			if err := o.move(ctx, tr, types.TransferFailed); err != nil {
				return nil, err
			}
			return tr, nil
		case types.MessageDelivered:
			return o.completed(ctx, tr, msg)
		default:
			o.logs.Debugw("transfer message changed concurrently", "transferId", tr.TransferID, "messageId", msg.MessageID, "messageStatus", msg.Status, "error", err)
			return tr, nil
		}
	}
	if err != nil {
		return tr, err
	}
	if !delivered {
		return tr, nil
	}

	msg, err := o.messenger.Get(ctx, tr.MessageID)
	if err != nil {
		return tr, err
	}
	return o.completed(ctx, tr, msg)
}

func (o *Orchestrator) completed(ctx context.Context, tr *types.CrossChainTransfer, msg *types.BridgeMessage) (*types.CrossChainTransfer, error) {
	tr.GasUsed = msg.GasUsed
	tr.Fee = msg.Fee
	tr.TxHash = msg.SubmitTxHash
	tr.Message = ""
	if err := o.move(ctx, tr, types.TransferCompleted); err != nil {
		return nil, err
	}
	return tr, nil
}

// move persists a status change; the caller holds the transfer lock.
func (o *Orchestrator) move(ctx context.Context, tr *types.CrossChainTransfer, to types.TransferStatus) error {
	prev := tr.Status
	next, err := prev.Transition(to)
	if err != nil {
		return err
	}
	tr.Status = next
	tr.UpdatedAt = o.now().Unix()
	if err := o.store.UpdateTransfer(ctx, tr, prev); err != nil {
		tr.Status = prev
		return err
	}
	o.logs.Infow("transfer status changed", "transferId", tr.TransferID, "from", prev, "to", next)
	o.notify(ctx, tr)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, tr *types.CrossChainTransfer) {
	o.metrics.Transition(string(events.EntityTransfer), string(tr.Status))
	events.Emit(ctx, o.publisher, o.logs,
		events.New(events.EntityTransfer, tr.TransferID, tr.ToChain, string(tr.Status), o.now(), tr))
}

func (o *Orchestrator) Status(ctx context.Context, id string) (*types.CrossChainTransfer, error) {
	return o.store.GetTransfer(ctx, id)
}

// ListTransfers returns transfers in a status, or all for "".
func (o *Orchestrator) ListTransfers(ctx context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error) {
	if status != "" && !status.Valid() {
		return nil, types.NewError(types.KindInvalidArgument, "unknown transfer status %q", status)
	}
	return o.store.ListTransfers(ctx, status)
}

// SwitchChain records chainID as the active chain of addr. Nothing is stored
// for an unsupported chain or an address that does not fit the chain.
func (o *Orchestrator) SwitchChain(ctx context.Context, addr string, chainID int64) (types.ChainConfig, error) {
	chain, err := o.registry.Supported(chainID)
	if err != nil {
		return types.ChainConfig{}, err
	}
	if err := address.Validate(chain.Kind, addr); err != nil {
		return types.ChainConfig{}, err
	}
	pref := types.ChainPreference{
		Address:   address.Normalize(chain.Kind, addr),
		ChainID:   chain.ChainID,
		UpdatedAt: o.now().Unix(),
	}
	if err := o.store.SaveChainPreference(ctx, pref); err != nil {
		return types.ChainConfig{}, err
	}
	o.logs.Infow("active chain switched", "address", pref.Address, "chainId", chain.ChainID)
	return chain, nil
}

func (o *Orchestrator) ActiveChain(ctx context.Context, addr string) (*types.ChainPreference, error) {
	return o.store.GetChainPreference(ctx, strings.TrimSpace(addr))
}

// EstimateGasFee prices both legs of a transfer with the balanced strategy.
func (o *Orchestrator) EstimateGasFee(from, to int64, amount, token string) (types.FeeEstimate, error) {
	if _, err := o.registry.Supported(from); err != nil {
		return types.FeeEstimate{}, err
	}
	if _, err := o.registry.Supported(to); err != nil {
		return types.FeeEstimate{}, err
	}
	if token != "" {
		if err := address.Validate(types.ChainKindEVM, token); err != nil {
			return types.FeeEstimate{}, err
		}
	}
	source, err := o.gas.Optimize(from, amount, types.StrategyBalanced, token)
	if err != nil {
		return types.FeeEstimate{}, err
	}
	target, err := o.gas.Optimize(to, amount, types.StrategyBalanced, token)
	if err != nil {
		return types.FeeEstimate{}, err
	}
	return types.FeeEstimate{
		FromChain: from,
		ToChain:   to,
		Amount:    strings.TrimSpace(amount),
		Token:     token,
		Source:    source,
		Target:    target,
		TotalCost: new(big.Int).Add(source.OptimizedCost, target.OptimizedCost),
	}, nil
}
