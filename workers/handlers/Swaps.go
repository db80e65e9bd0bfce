package handlers

import (
	"net/http"
	"regexp"

	"crossbridge/swap"
	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

var secretPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type CreateSwapRequest struct {
	Participant      string          `json:"participant"`
	InitiatorChain   int64           `json:"initiatorChain"`
	ParticipantChain int64           `json:"participantChain"`
	InitiatorAsset   types.SwapAsset `json:"initiatorAsset"`
	ParticipantAsset types.SwapAsset `json:"participantAsset"`
	TimelockSeconds  int64           `json:"timelockSeconds"`
}

func (c CreateSwapRequest) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.InitiatorChain, validation.Required),
		validation.Field(&c.ParticipantChain, validation.Required),
		validation.Field(&c.InitiatorAsset, validation.By(assetRule)),
		validation.Field(&c.ParticipantAsset, validation.By(assetRule)),
		validation.Field(&c.TimelockSeconds, validation.Required, validation.Min(int64(1))),
	)
}

func assetRule(value interface{}) error {
	asset, _ := value.(types.SwapAsset)
	return validation.ValidateStruct(&asset,
		validation.Field(&asset.Amount, validation.Required),
	)
}

func (a *API) CreateSwap(w http.ResponseWriter, r *http.Request) {
	initiator, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req CreateSwapRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	sw, secret, err := a.Swaps.Create(r.Context(), swap.CreateRequest{
		Initiator:        initiator,
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
	responseJSON(w, &SwapCreatedResponse{Status: "ok", Swap: sw, Secret: secret}, http.StatusCreated)
}

func (a *API) GetSwap(w http.ResponseWriter, r *http.Request) {
	sw, err := a.Swaps.Get(r.Context(), chi.URLParam(r, "swapId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, sw)
}

func (a *API) ParticipateSwap(w http.ResponseWriter, r *http.Request) {
	participant, ok := a.caller(w, r)
	if !ok {
		return
	}
	sw, err := a.Swaps.Participate(r.Context(), chi.URLParam(r, "swapId"), participant)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, sw)
}

type RedeemSwapRequest struct {
	Secret string `json:"secret"`
}

func (s RedeemSwapRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Secret, validation.Required, validation.Match(secretPattern)),
	)
}

func (a *API) RedeemSwap(w http.ResponseWriter, r *http.Request) {
	var req RedeemSwapRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	sw, err := a.Swaps.Redeem(r.Context(), chi.URLParam(r, "swapId"), req.Secret)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, sw)
}

func (a *API) RefundSwap(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	sw, err := a.Swaps.Refund(r.Context(), chi.URLParam(r, "swapId"), caller)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, sw)
}

func (a *API) CancelSwap(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	sw, err := a.Swaps.Cancel(r.Context(), chi.URLParam(r, "swapId"), caller)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, sw)
}

func (a *API) UserSwaps(w http.ResponseWriter, r *http.Request) {
	list, err := a.Swaps.ListByUser(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}
