package handlers

import (
	"net/http"

	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

func (a *API) GetChains(w http.ResponseWriter, r *http.Request) {
	okJSON(w, a.Chains.List())
}

func (a *API) GetChain(w http.ResponseWriter, r *http.Request) {
	id, err := chainIDParam(r, "chainId")
	if err != nil {
		a.responseBadRequest(w, "chainId", types.DetailOf(err))
		return
	}
	chain, err := a.Chains.Get(id)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, chain)
}

type SwitchChainRequest struct {
	ChainID int64 `json:"chainId"`
}

func (s SwitchChainRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.ChainID, validation.Required, validation.Min(int64(0))),
	)
}

func (a *API) SwitchChain(w http.ResponseWriter, r *http.Request) {
	var req SwitchChainRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	chain, err := a.Transfers.SwitchChain(r.Context(), chi.URLParam(r, "address"), req.ChainID)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, chain)
}
