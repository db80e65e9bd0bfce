package handlers

import (
	"fmt"
	"net/http"
)

// State reports the number of supported chains, plain text when asked for.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	msg := fmt.Sprintf("%d chains supported", len(a.Chains.List()))
	if r.URL.Query().Get("format") == "plain" {
		responsePlain(w, []byte("ok: "+msg), http.StatusOK)
		return
	}
	responseJSON(w, &APIStateResponse{
		Status:  "ok",
		Message: msg,
	}, http.StatusOK)
}
