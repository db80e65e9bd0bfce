// Package handlers serves the bridge operations over REST.
package handlers

import (
	"context"
	"net/http"
	"time"

	"crossbridge/messenger"
	"crossbridge/orchestrator"
	"crossbridge/relayers"
	"crossbridge/swap"
	"crossbridge/types"

	"go.uber.org/zap"
)

type Chains interface {
	List() []types.ChainConfig
	Get(chainID int64) (types.ChainConfig, error)
}

type Transfers interface {
	Initiate(ctx context.Context, req orchestrator.InitiateRequest) (*types.CrossChainTransfer, error)
	Complete(ctx context.Context, id string) (*types.CrossChainTransfer, error)
	Status(ctx context.Context, id string) (*types.CrossChainTransfer, error)
	ListTransfers(ctx context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error)
	SwitchChain(ctx context.Context, addr string, chainID int64) (types.ChainConfig, error)
	EstimateGasFee(from, to int64, amount, token string) (types.FeeEstimate, error)
}

type Proofs interface {
	Validate(ctx context.Context, p *types.CrossChainProof) (types.ValidationResult, error)
	ValidateBatch(ctx context.Context, proofs []*types.CrossChainProof) ([]types.ValidationResult, error)
	Stats() types.VerificationStats
	ChainStats(chainID int64) types.VerificationStats
	Result(proofID string, chainID int64) (types.ChainVerification, error)
	IssuedProof(ctx context.Context, id string) (*types.IssuedProof, error)
	ProofsByIssuer(ctx context.Context, issuer string) ([]*types.IssuedProof, error)
}

type Gas interface {
	Predict(chainID int64) (uint64, error)
	Optimize(chainID int64, amount string, strategy types.GasStrategy, token string) (types.GasOptimizationResult, error)
	PredictOptimalWindow(ctx context.Context, chainID int64, maxWait time.Duration) (types.OptimalWindow, error)
}

type Swaps interface {
	Create(ctx context.Context, req swap.CreateRequest) (*types.AtomicSwap, string, error)
	Get(ctx context.Context, id string) (*types.AtomicSwap, error)
	Participate(ctx context.Context, id, participant string) (*types.AtomicSwap, error)
	Redeem(ctx context.Context, id, secretHex string) (*types.AtomicSwap, error)
	Refund(ctx context.Context, id, caller string) (*types.AtomicSwap, error)
	Cancel(ctx context.Context, id, caller string) (*types.AtomicSwap, error)
	ListByUser(ctx context.Context, addr string) ([]*types.AtomicSwap, error)
	CreateProposal(ctx context.Context, req swap.CreateRequest) (*types.SwapProposal, string, error)
	GetProposal(ctx context.Context, id string) (*types.SwapProposal, error)
	AcceptProposal(ctx context.Context, id, accepter string) (*types.AtomicSwap, error)
	WithdrawProposal(ctx context.Context, id, caller string) (*types.SwapProposal, error)
	ListProposals(ctx context.Context, addr string) ([]*types.SwapProposal, error)
}

type Messages interface {
	Get(ctx context.Context, id string) (*types.BridgeMessage, error)
	ListByRecipient(ctx context.Context, recipient string) ([]*types.BridgeMessage, error)
	CreateQueue(ctx context.Context, req messenger.QueueRequest) (*types.MessageQueue, error)
	Queues(ctx context.Context, chainID int64) ([]*types.MessageQueue, error)
	QueuedMessages(ctx context.Context, queueID string) ([]*types.BridgeMessage, error)
}

type Relayers interface {
	Register(ctx context.Context, req relayers.RegisterRequest) (*types.Relayer, error)
	Get(ctx context.Context, id string) (*types.Relayer, error)
	List(ctx context.Context) ([]*types.Relayer, error)
	SetActive(ctx context.Context, id string, active bool) (*types.Relayer, error)
}

type Services struct {
	Chains    Chains
	Transfers Transfers
	Proofs    Proofs
	Gas       Gas
	Swaps     Swaps
	Messages  Messages
	Relayers  Relayers
}

type API struct {
	Services
	auth *Authenticator
	logs *zap.SugaredLogger
}

func New(s Services, auth *Authenticator, logs *zap.SugaredLogger) *API {
	if auth == nil {
		auth = NewAuthenticator("")
	}
	return &API{Services: s, auth: auth, logs: logs}
}

// caller writes a 401 and returns false when the request carries no identity.
func (a *API) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	c, err := a.auth.Caller(r)
	if err != nil {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Kind:    string(types.KindUnauthorized),
			Message: types.DetailOf(err),
		}, http.StatusUnauthorized)
		return "", false
	}
	return c, true
}
