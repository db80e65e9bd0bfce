package handlers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"crossbridge/types"

	"github.com/go-chi/chi"
	"github.com/jellydator/validation"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed proof.schema.json
var proofSchemaBytes []byte

var proofSchema = mustSchema(proofSchemaBytes)

func mustSchema(b []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		panic(fmt.Sprintf("failed to load schema: %v", err))
	}
	return s
}

// ValidateProofJSON checks a submitted proof document against the proof schema.
func ValidateProofJSON(data []byte) error {
	result, err := proofSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return types.WrapError(types.KindMalformedProof, err, "schema validation error")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return types.NewError(types.KindMalformedProof, "schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func decodeProof(raw []byte) (*types.CrossChainProof, error) {
	if err := ValidateProofJSON(raw); err != nil {
		return nil, err
	}
	var p types.CrossChainProof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, types.WrapError(types.KindMalformedProof, err, "cannot unmarshal proof")
	}
	return &p, nil
}

func (a *API) VerifyProof(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.responseBadRequest(w, "", "Error reading request body")
		return
	}
	p, err := decodeProof(body)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	res, err := a.Proofs.Validate(r.Context(), p)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, res)
}

const maxBatchProofs = 100

type VerifyBatchRequest struct {
	Proofs []json.RawMessage `json:"proofs"`
}

func (b VerifyBatchRequest) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Proofs, validation.Required, validation.Length(1, maxBatchProofs)),
	)
}

func (a *API) VerifyProofBatch(w http.ResponseWriter, r *http.Request) {
	var req VerifyBatchRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		a.responseInvalid(w, r, err)
		return
	}
	proofs := make([]*types.CrossChainProof, 0, len(req.Proofs))
	for i, raw := range req.Proofs {
		p, err := decodeProof(raw)
		if err != nil {
			a.responseBadRequest(w, fmt.Sprintf("proofs[%d]", i), types.DetailOf(err))
			return
		}
		proofs = append(proofs, p)
	}
	results, err := a.Proofs.ValidateBatch(r.Context(), proofs)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, results)
}

func (a *API) ProofStats(w http.ResponseWriter, r *http.Request) {
	okJSON(w, a.Proofs.Stats())
}

func (a *API) ChainProofStats(w http.ResponseWriter, r *http.Request) {
	id, err := chainIDParam(r, "chainId")
	if err != nil {
		a.responseBadRequest(w, "chainId", types.DetailOf(err))
		return
	}
	okJSON(w, a.Proofs.ChainStats(id))
}

// ProofResult is the last verification of a proof on one chain.
func (a *API) ProofResult(w http.ResponseWriter, r *http.Request) {
	id, err := chainIDParam(r, "chainId")
	if err != nil {
		a.responseBadRequest(w, "chainId", types.DetailOf(err))
		return
	}
	res, err := a.Proofs.Result(chi.URLParam(r, "proofId"), id)
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, res)
}

func (a *API) GetIssuedProof(w http.ResponseWriter, r *http.Request) {
	p, err := a.Proofs.IssuedProof(r.Context(), chi.URLParam(r, "proofId"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, p)
}

func (a *API) IssuerProofs(w http.ResponseWriter, r *http.Request) {
	list, err := a.Proofs.ProofsByIssuer(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		a.responseError(w, r, err)
		return
	}
	okJSON(w, list)
}
