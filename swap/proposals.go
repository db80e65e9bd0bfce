package swap

import (
	"context"
	"sort"

	"crossbridge/address"
	"crossbridge/events"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

func proposalKey(id string) string {
	return "proposal:" + id
}

// CreateProposal offers a swap to a named participant. The secret is
// returned to the proposer like Create does; the swap itself only exists
// once the participant accepts.
func (e *Engine) CreateProposal(ctx context.Context, req CreateRequest) (*types.SwapProposal, string, error) {
	if req.Participant == "" {
		return nil, "", types.NewError(types.KindInvalidArgument, "a proposal needs a participant")
	}
	ic, pc, err := e.check(req)
	if err != nil {
		return nil, "", err
	}
	secret, hash, err := e.secret(ic)
	if err != nil {
		return nil, "", err
	}
	p := &types.SwapProposal{
		ProposalID:       uuid.New().String(),
		Proposer:         address.Normalize(ic.Kind, req.Initiator),
		Participant:      address.Normalize(pc.Kind, req.Participant),
		InitiatorChain:   ic.ChainID,
		ParticipantChain: pc.ChainID,
		InitiatorAsset:   req.InitiatorAsset,
		ParticipantAsset: req.ParticipantAsset,
		SecretHash:       hash,
		TimelockSeconds:  req.TimelockSeconds,
		Status:           types.ProposalOpen,
		CreatedAt:        e.now().Unix(),
	}
	if err := e.store.CreateProposal(ctx, p); err != nil {
		return nil, "", err
	}
	e.logs.Infow("swap proposed", "proposalId", p.ProposalID, "proposer", p.Proposer, "participant", p.Participant)
	e.notifyProposal(ctx, p)
	return p, hexutil.Encode(secret), nil
}

func (e *Engine) GetProposal(ctx context.Context, id string) (*types.SwapProposal, error) {
	return e.store.GetProposal(ctx, id)
}

// ListProposals returns the proposals a user made or received, newest first.
func (e *Engine) ListProposals(ctx context.Context, addr string) ([]*types.SwapProposal, error) {
	ps, err := e.store.ListProposalsByUser(ctx, addr)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].CreatedAt > ps[j].CreatedAt })
	return ps, nil
}

// AcceptProposal opens the proposed swap. Only the named participant may
// accept, and the timelock runs from acceptance.
func (e *Engine) AcceptProposal(ctx context.Context, id, accepter string) (*types.AtomicSwap, error) {
	unlock := e.locks.Lock(proposalKey(id))
	defer unlock()

	p, err := e.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !types.SameAddress(accepter, p.Participant) {
		return nil, types.NewError(types.KindUnauthorized, "only %s may accept proposal %s", p.Participant, id)
	}
	if _, err := p.Status.Transition(types.ProposalAccepted); err != nil {
		return nil, err
	}
	req := CreateRequest{
		Initiator:        p.Proposer,
		Participant:      p.Participant,
		InitiatorChain:   p.InitiatorChain,
		ParticipantChain: p.ParticipantChain,
		InitiatorAsset:   p.InitiatorAsset,
		ParticipantAsset: p.ParticipantAsset,
		TimelockSeconds:  p.TimelockSeconds,
	}
	ic, pc, err := e.check(req)
	if err != nil {
		return nil, err
	}
	sw, err := e.create(ctx, req, ic, pc, p.SecretHash)
	if err != nil {
		return nil, err
	}
	p.SwapID = sw.SwapID
	if err := e.closeProposal(ctx, p, types.ProposalAccepted); err != nil {
		e.logs.Errorw("error closing accepted proposal", "proposalId", id, "swapId", sw.SwapID, "error", err)
		return nil, err
	}
	return sw, nil
}

// WithdrawProposal closes an open proposal on behalf of its proposer.
func (e *Engine) WithdrawProposal(ctx context.Context, id, caller string) (*types.SwapProposal, error) {
	unlock := e.locks.Lock(proposalKey(id))
	defer unlock()

	p, err := e.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if !types.SameAddress(caller, p.Proposer) {
		return nil, types.NewError(types.KindUnauthorized, "only %s may withdraw proposal %s", p.Proposer, id)
	}
	if err := e.closeProposal(ctx, p, types.ProposalWithdrawn); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) closeProposal(ctx context.Context, p *types.SwapProposal, to types.ProposalStatus) error {
	prev := p.Status
	next, err := prev.Transition(to)
	if err != nil {
		return err
	}
	p.Status = next
	p.ClosedAt = e.now().Unix()
	if err := e.store.UpdateProposal(ctx, p, prev); err != nil {
		p.Status = prev
		p.ClosedAt = 0
		return err
	}
	e.logs.Infow("proposal status changed", "proposalId", p.ProposalID, "from", prev, "to", next, "swapId", p.SwapID)
	e.notifyProposal(ctx, p)
	return nil
}

func (e *Engine) notifyProposal(ctx context.Context, p *types.SwapProposal) {
	e.metrics.Transition(string(events.EntityProposal), string(p.Status))
	events.Emit(ctx, e.publisher, e.logs,
		events.New(events.EntityProposal, p.ProposalID, p.ParticipantChain, string(p.Status), e.now(), p))
}
