package handlers

import (
	"net/http"

	"crossbridge/orchestrator"
	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

type InitiateTransferRequest orchestrator.InitiateRequest

func (t InitiateTransferRequest) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.TransferID, validation.Required, validation.Length(1, 128)),
		validation.Field(&t.FromChain, validation.Required),
		validation.Field(&t.ToChain, validation.Required),
		validation.Field(&t.Sender, validation.Required),
		validation.Field(&t.Recipient, validation.Required),
		validation.Field(&t.Amount, validation.Required),
	)
}

func (a *API) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req InitiateTransferRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	tr, err := a.Transfers.Initiate(r.Context(), orchestrator.InitiateRequest(req))
	if err != nil && tr == nil {
		a.responseError(w, r, err)
		return
	}
	if err != nil {
		// stored but not submitted yet, completing it later resubmits
		a.logs.Warnw("transfer stored without submission", "transferId", tr.TransferID, "error", err)
		responseJSON(w, tr, http.StatusAccepted)
		return
	}
	responseJSON(w, tr, http.StatusCreated)
}

func (a *API) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := a.Transfers.Complete(r.Context(), chi.URLParam(r, "transferId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, tr)
}

func (a *API) GetTransfer(w http.ResponseWriter, r *http.Request) {
	tr, err := a.Transfers.Status(r.Context(), chi.URLParam(r, "transferId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, tr)
}

func (a *API) ListTransfers(w http.ResponseWriter, r *http.Request) {
	status := types.TransferStatus(r.URL.Query().Get("status"))
	list, err := a.Transfers.ListTransfers(r.Context(), status)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}
