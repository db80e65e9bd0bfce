package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responsePlain(w http.ResponseWriter, data []byte, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	w.Write(data)
}

// StatusCode maps an error kind to the HTTP status returned for it.
func StatusCode(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidArgument, types.KindMalformedProof:
		return http.StatusBadRequest
	case types.KindUnauthorized:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindInvalidStateTransition, types.KindTimelockExpired, types.KindTimelockNotExpired:
		return http.StatusConflict
	case types.KindUnsupportedChain, types.KindInvalidSignature, types.KindExpiredProof, types.KindInsufficientConfirmations:
		return http.StatusUnprocessableEntity
	case types.KindProviderUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) responseError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	code := StatusCode(kind)
	msg := types.DetailOf(err)
	if code == http.StatusInternalServerError {
		a.logs.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	} else {
		a.logs.Debugw("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}
	responseJSON(w, &APIResponse{
		Status:  "error",
		Kind:    string(kind),
		Message: msg,
	}, code)
}

func (a *API) responseBadRequest(w http.ResponseWriter, field, msg string) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Kind:    string(types.KindInvalidArgument),
		Field:   field,
		Message: msg,
	}, http.StatusBadRequest)
}

const maxBodyBytes = 1 << 20

// decodeAndValidate reads a JSON body into object, rejecting unknown fields,
// and runs its Validate method when it has one.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, object any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	defer r.Body.Close()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(object); err != nil {
		return types.WrapError(types.KindInvalidArgument, err, "cannot unmarshal input JSON")
	}
	if v, ok := object.(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return types.WrapError(types.KindInvalidArgument, err, "invalid request")
		}
	}
	return nil
}

// fieldOf names the first invalid field of a validation error.
func fieldOf(err error) string {
	var errs validation.Errors
	if errors.As(err, &errs) {
		for field := range errs {
			return field
		}
	}
	return ""
}

func (a *API) responseInvalid(w http.ResponseWriter, r *http.Request, err error) {
	if field := fieldOf(err); field != "" {
		a.responseBadRequest(w, field, types.DetailOf(err))
		return
	}
	a.responseError(w, r, err)
}

func chainIDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		raw = r.URL.Query().Get(name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.NewError(types.KindInvalidArgument, "%s %q is not a chain id", name, raw)
	}
	return id, nil
}

func okJSON(w http.ResponseWriter, data any) {
	responseJSON(w, data, http.StatusOK)
}
