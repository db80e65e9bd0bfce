package validator

import (
	"context"

	"crossbridge/chainrpc"
	"crossbridge/types"
)

// ClientSource hands out the chain client of a chain id; *chainrpc.Pool
// satisfies it.
type ClientSource interface {
	For(chainID int64) (chainrpc.Client, error)
}

// ProofStore keeps issued proofs; CreateProof fails with InvalidArgument
// when the proof id is taken.
type ProofStore interface {
	CreateProof(ctx context.Context, p *types.IssuedProof) error
	GetProof(ctx context.Context, id string) (*types.IssuedProof, error)
	ListProofsByIssuer(ctx context.Context, issuer string) ([]*types.IssuedProof, error)
}
