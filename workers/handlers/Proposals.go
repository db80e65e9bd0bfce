package handlers

import (
	"net/http"

	"crossbridge/swap"
	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

type CreateProposalRequest struct {
	CreateSwapRequest
}

func (c CreateProposalRequest) Validate() error {
	if err := c.CreateSwapRequest.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Participant, validation.Required),
	)
}

type ProposalCreatedResponse struct {
	Status   string `json:"status"`
	Proposal any    `json:"proposal"`
	// shown once, the proposal keeps only its hash
	Secret string `json:"secret"`
}

func (a *API) CreateProposal(w http.ResponseWriter, r *http.Request) {
	proposer, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req CreateProposalRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	p, secret, err := a.Swaps.CreateProposal(r.Context(), swap.CreateRequest{
		Initiator:        proposer,
		Participant:      req.Participant,
		InitiatorChain:   req.InitiatorChain,
		ParticipantChain: req.ParticipantChain,
		InitiatorAsset:   req.InitiatorAsset,
		ParticipantAsset: req.ParticipantAsset,
		TimelockSeconds:  req.TimelockSeconds,
	})
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, &ProposalCreatedResponse{Status: "ok", Proposal: p, Secret: secret}, http.StatusCreated)
}

func (a *API) GetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := a.Swaps.GetProposal(r.Context(), chi.URLParam(r, "proposalId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, p)
}

func (a *API) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	sw, err := a.Swaps.AcceptProposal(r.Context(), chi.URLParam(r, "proposalId"), caller)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, sw, http.StatusCreated)
}

func (a *API) WithdrawProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	p, err := a.Swaps.WithdrawProposal(r.Context(), chi.URLParam(r, "proposalId"), caller)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, p)
}

func (a *API) UserProposals(w http.ResponseWriter, r *http.Request) {
	list, err := a.Swaps.ListProposals(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	if list == nil {
		list = []*types.SwapProposal{}
	}
	okJSON(w, list)
}
