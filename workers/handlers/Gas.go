package handlers

import (
	"net/http"
	"strconv"
	"time"

	"crossbridge/types"
)

func (a *API) EstimateGasFee(w http.ResponseWriter, r *http.Request) {
	from, err := chainIDParam(r, "from")
	if err != nil {
		a.responseBadRequest(w, "from", types.DetailOf(err))
		return
	}
	to, err := chainIDParam(r, "to")
	if err != nil {
		a.responseBadRequest(w, "to", types.DetailOf(err))
		return
	}
	q := r.URL.Query()
	est, err := a.Transfers.EstimateGasFee(from, to, q.Get("amount"), q.Get("token"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, &FeeResponse{Status: "ok", Fee: est})
}

type PredictResponse struct {
	ChainID        int64  `json:"chainId"`
	PredictedPrice uint64 `json:"predictedPrice"`
}

func (a *API) PredictGas(w http.ResponseWriter, r *http.Request) {
	id, err := chainIDParam(r, "chainId")
	if err != nil {
		a.responseBadRequest(w, "chainId", types.DetailOf(err))
		return
	}
	price, err := a.Gas.Predict(id)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, &PredictResponse{ChainID: id, PredictedPrice: price})
}

func (a *API) OptimizeGas(w http.ResponseWriter, r *http.Request) {
	id, err := chainIDParam(r, "chainId")
	if err != nil {
		a.responseBadRequest(w, "chainId", types.DetailOf(err))
		return
	}
	q := r.URL.Query()
	res, err := a.Gas.Optimize(id, q.Get("amount"), types.GasStrategy(q.Get("strategy")), q.Get("token"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, res)
}

// parseWait accepts a Go duration ("90m") or whole seconds.
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 24 * time.Hour, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.NewError(types.KindInvalidArgument, "maxWait %q is neither a duration nor seconds", raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func (a *API) OptimalWindow(w http.ResponseWriter, r *http.Request) {
	id, err := chainIDParam(r, "chainId")
	if err != nil {
		a.responseBadRequest(w, "chainId", types.DetailOf(err))
		return
	}
	wait, err := parseWait(r.URL.Query().Get("maxWait"))
	if err != nil {
		a.responseBadRequest(w, "maxWait", types.DetailOf(err))
		return
	}
	win, err := a.Gas.PredictOptimalWindow(r.Context(), id, wait)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, win)
}
