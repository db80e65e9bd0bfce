package validator

import (
	"context"
	"crypto/ecdsa"

	"crossbridge/hashing"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// Issue signs p as one of its chain's authorized verifiers and stores it.
// An empty proof id gets a random one, an empty merkle root is computed from
// the proof data and path, and the timestamp is the issue time. The
// transaction itself is not checked here; Validate does that.
func (v *Validator) Issue(ctx context.Context, p types.CrossChainProof, key *ecdsa.PrivateKey) (*types.IssuedProof, error) {
	if v.proofs == nil {
		return nil, types.NewError(types.KindInternal, "proof issuance is not configured")
	}
	if key == nil {
		return nil, types.NewError(types.KindUnauthorized, "a verifier key is required")
	}
	chain, err := v.registry.Supported(p.ChainID)
	if err != nil {
		return nil, err
	}
	issuer := hashing.AddressOf(key).Hex()
	if !chain.IsAuthorizedVerifier(issuer) {
		return nil, types.NewError(types.KindUnauthorized, "%s is not an authorized verifier of chain %d", issuer, chain.ChainID)
	}
	hasher, err := hashing.NewHasher(chain.HashAlgorithm)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "chain %d", chain.ChainID)
	}
	scheme, err := hashing.NewScheme(chain.SignatureScheme)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "chain %d", chain.ChainID)
	}

	now := v.now()
	if p.ProofID == "" {
		p.ProofID = uuid.New().String()
	}
	p.Timestamp = now.Unix()
	p.VerifierSignature = ""
	if p.MerkleRoot == "" {
		p.MerkleRoot = hashing.Digest{}.Hex()
	}
	parsed, res := parse(&p, now)
	if res != nil {
		return nil, types.NewError(types.KindInvalidArgument, "%s", res.Details)
	}
	root := hashing.MerkleRoot(hasher, parsed.data, parsed.path)
	if parsed.root == (hashing.Digest{}) {
		p.MerkleRoot = root.Hex()
	} else if parsed.root != root {
		return nil, types.NewError(types.KindInvalidArgument, "merkle root does not match the proof data and path")
	}

	digest, err := SigningDigest(hasher, &p)
	if err != nil {
		return nil, types.WrapError(types.KindInvalidArgument, err, "proof %s", p.ProofID)
	}
	sig, err := scheme.Sign(digest, key)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "signing proof %s", p.ProofID)
	}
	p.VerifierSignature = hexutil.Encode(sig)

	issued := &types.IssuedProof{CrossChainProof: p, Issuer: issuer, IssuedAt: now.Unix()}
	if err := v.proofs.CreateProof(ctx, issued); err != nil {
		return nil, err
	}
	v.logs.Infow("proof issued", "proofId", p.ProofID, "chainId", p.ChainID, "issuer", issuer)
	return issued, nil
}

func (v *Validator) IssuedProof(ctx context.Context, id string) (*types.IssuedProof, error) {
	if v.proofs == nil {
		return nil, types.NewError(types.KindNotFound, "proof %s not found", id)
	}
	return v.proofs.GetProof(ctx, id)
}

// ProofsByIssuer lists the proofs issued by one verifier address.
func (v *Validator) ProofsByIssuer(ctx context.Context, issuer string) ([]*types.IssuedProof, error) {
	if v.proofs == nil {
		return []*types.IssuedProof{}, nil
	}
	return v.proofs.ListProofsByIssuer(ctx, issuer)
}
