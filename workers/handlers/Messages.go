package handlers

import (
	"net/http"

	"crossbridge/messenger"
	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

func (a *API) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := a.Messages.Get(r.Context(), chi.URLParam(r, "messageId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, msg)
}

func (a *API) RecipientMessages(w http.ResponseWriter, r *http.Request) {
	list, err := a.Messages.ListByRecipient(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}

type CreateQueueRequest struct {
	ChainID  int64               `json:"chainId"`
	Priority types.QueuePriority `json:"priority"`
	MaxSize  int                 `json:"maxSize"`
}

func (c CreateQueueRequest) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ChainID, validation.Required),
		validation.Field(&c.MaxSize, validation.Required, validation.Min(1)),
	)
}

func (a *API) CreateQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.caller(w, r); !ok {
		return
	}
	var req CreateQueueRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	q, err := a.Messages.CreateQueue(r.Context(), messenger.QueueRequest{
		ChainID:  req.ChainID,
		Priority: req.Priority,
		MaxSize:  req.MaxSize,
	})
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	responseJSON(w, q, http.StatusCreated)
}

// ListQueues lists the queues of ?chainId=, or all of them.
func (a *API) ListQueues(w http.ResponseWriter, r *http.Request) {
	var chainID int64
	if r.URL.Query().Get("chainId") != "" {
		id, err := chainIDParam(r, "chainId")
		if err != nil {
			a.responseBadRequest(w, "chainId", types.DetailOf(err))
			return
		}
		chainID = id
	}
	list, err := a.Messages.Queues(r.Context(), chainID)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}

func (a *API) QueueMessages(w http.ResponseWriter, r *http.Request) {
	list, err := a.Messages.QueuedMessages(r.Context(), chi.URLParam(r, "queueId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}
