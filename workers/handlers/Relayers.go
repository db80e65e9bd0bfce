package handlers

import (
	"net/http"

	"crossbridge/relayers"
	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

type RegisterRelayerRequest struct {
	SupportedChains []int64 `json:"supportedChains"`
	FeePercentage   uint32  `json:"feePercentage"`
}

func (req RegisterRelayerRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.SupportedChains, validation.Required),
		validation.Field(&req.FeePercentage, validation.Max(uint32(100))),
	)
}

// RegisterRelayer registers the caller's address as a relayer.
func (a *API) RegisterRelayer(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req RegisterRelayerRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	rel, err := a.Relayers.Register(r.Context(), relayers.RegisterRequest{
		Address:         caller,
		SupportedChains: req.SupportedChains,
		FeePercentage:   req.FeePercentage,
	})
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, rel, http.StatusCreated)
}

func (a *API) ListRelayers(w http.ResponseWriter, r *http.Request) {
	list, err := a.Relayers.List(r.Context())
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}

func (a *API) GetRelayer(w http.ResponseWriter, r *http.Request) {
	rel, err := a.Relayers.Get(r.Context(), chi.URLParam(r, "relayerId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, rel)
}

type RelayerStatusRequest struct {
	Active bool `json:"active"`
}

// SetRelayerStatus pauses or resumes a relayer; only the relayer itself may.
func (a *API) SetRelayerStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}
	var req RelayerStatusRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	id := chi.URLParam(r, "relayerId")
	rel, err := a.Relayers.Get(r.Context(), id)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	if !types.SameAddress(caller, rel.Address) {
		a.responseError(w, r, types.NewError(types.KindUnauthorized, "only %s may change relayer %s", rel.Address, id))
		return
	}
	rel, err = a.Relayers.SetActive(r.Context(), id, req.Active)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, rel)
}
