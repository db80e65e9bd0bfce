// Package validator checks cross-chain proofs: age, structure, transaction
// finality, Merkle inclusion and the verifier signature, in that order.
package validator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"crossbridge/chainrpc"
	"crossbridge/hashing"
	"crossbridge/metrics"
	"crossbridge/registry"
	"crossbridge/ttlcache"
	"crossbridge/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCacheTTL    = 5 * time.Minute
	DefaultConcurrency = 8
	// DefaultResultTTL is how long per-chain verification results stay queryable
	DefaultResultTTL = 24 * time.Hour
	// maxAgePenalty is the confidence share a proof loses as it nears maxProofAge
	maxAgePenalty = 0.10
	// maxClockSkew tolerates proofs stamped slightly ahead of our clock
	maxClockSkew = 5 * time.Minute
)

type cacheKey struct {
	chainID    int64
	txHash     string
	merkleRoot string
}

type resultKey struct {
	proofID string
	chainID int64
}

type Validator struct {
	registry    *registry.ChainRegistry
	clients     ClientSource
	logs        *zap.SugaredLogger
	metrics     *metrics.Metrics
	cache       *ttlcache.Cache[cacheKey, types.TxCheck]
	results     *ttlcache.Cache[resultKey, types.ChainVerification]
	proofs      ProofStore
	now         func() time.Time
	concurrency int

	mu      sync.Mutex
	stats   types.VerificationStats
	byChain map[int64]*types.VerificationStats
}

type Option func(*Validator)

func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.cache = ttlcache.New[cacheKey, types.TxCheck](ttl) }
}

func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithProofStore enables proof issuance.
func WithProofStore(s ProofStore) Option {
	return func(v *Validator) { v.proofs = s }
}

func WithResultTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.results = ttlcache.New[resultKey, types.ChainVerification](ttl) }
}

func New(reg *registry.ChainRegistry, clients ClientSource, logs *zap.SugaredLogger, opts ...Option) *Validator {
	v := &Validator{
		registry:    reg,
		clients:     clients,
		logs:        logs,
		cache:       ttlcache.New[cacheKey, types.TxCheck](DefaultCacheTTL),
		results:     ttlcache.New[resultKey, types.ChainVerification](DefaultResultTTL),
		now:         time.Now,
		concurrency: DefaultConcurrency,
		stats:       types.VerificationStats{ByKind: make(map[types.ResultKind]uint64)},
		byChain:     make(map[int64]*types.VerificationStats),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.cache.WithClock(v.now)
	v.results.WithClock(v.now)
	return v
}

// SigningDigest is what a verifier signs for a proof:
// H(proofId || be64(chainId) || be64(blockNumber) || txHash || merkleRoot || be64(timestamp)).
func SigningDigest(h hashing.Hasher, p *types.CrossChainProof) (hashing.Digest, error) {
	tx, err := hashing.ParseDigest(p.TransactionHash)
	if err != nil {
		return hashing.Digest{}, err
	}
	root, err := hashing.ParseDigest(p.MerkleRoot)
	if err != nil {
		return hashing.Digest{}, err
	}
	return h.Sum(
		[]byte(p.ProofID),
		hashing.Int64Bytes(p.ChainID),
		hashing.Uint64Bytes(p.BlockNumber),
		tx[:],
		root[:],
		hashing.Int64Bytes(p.Timestamp),
	), nil
}

type parsedProof struct {
	data []byte
	root hashing.Digest
	path []hashing.Digest
}

func result(p *types.CrossChainProof, kind types.ResultKind, confidence float64, format string, args ...any) types.ValidationResult {
	return types.ValidationResult{
		ProofID:    p.ProofID,
		IsValid:    kind == types.ResultValid,
		Kind:       kind,
		Confidence: math.Max(0, math.Min(100, confidence)),
		Details:    fmt.Sprintf(format, args...),
	}
}

// Validate runs the pipeline and stops at the first failing step. Invalid
// proofs are results, not errors; an error means a chain provider could not
// answer and the proof was not judged.
func (v *Validator) Validate(ctx context.Context, p *types.CrossChainProof) (types.ValidationResult, error) {
	res, err := v.validate(ctx, p)
	if err != nil {
		v.logs.Warnw("proof validation aborted", "proofId", p.ProofID, "chainId", p.ChainID, "error", err)
		return res, err
	}
	v.record(p.ChainID, res)
	if !res.IsValid {
		v.logs.Infow("proof rejected", "proofId", p.ProofID, "chainId", p.ChainID, "kind", res.Kind, "details", res.Details)
	}
	return res, nil
}

func (v *Validator) validate(ctx context.Context, p *types.CrossChainProof) (types.ValidationResult, error) {
	chain, err := v.registry.Supported(p.ChainID)
	if err != nil {
		return result(p, types.ResultUnsupportedChain, 0, "chain %d is not supported", p.ChainID), nil
	}
	hasher, err := hashing.NewHasher(chain.HashAlgorithm)
	if err != nil {
		return types.ValidationResult{}, types.WrapError(types.KindInternal, err, "chain %d", chain.ChainID)
	}

	now := v.now()
	age := now.Sub(time.Unix(p.Timestamp, 0))
	maxAge := chain.MaxProofAgeDuration()
	if age > maxAge {
		return result(p, types.ResultExpired, expiredConfidence(chain.TrustLevel, age, maxAge),
			"proof is %s old, limit is %s", age.Truncate(time.Second), maxAge), nil
	}

	parsed, res := parse(p, now)
	if res != nil {
		return *res, nil
	}

	check, err := v.checkTransaction(ctx, chain, p.TransactionHash, p.BlockNumber, p.MerkleRoot)
	if err != nil {
		return types.ValidationResult{}, err
	}
	if !check.Confirmed() {
		conf := 0.0
		if check.Kind == types.ResultInsufficientConfirmations && check.Required > 0 {
			conf = float64(check.Confirmations) / float64(check.Required) * 100
		}
		return result(p, check.Kind, conf, "%s", check.Details), nil
	}

	if hashing.MerkleRoot(hasher, parsed.data, parsed.path) != parsed.root {
		return result(p, types.ResultInvalidMerkleProof, 0, "recomputed root does not match merkle root"), nil
	}

	signer, res := verifySignature(chain, hasher, p)
	if res != nil {
		return *res, nil
	}

	out := result(p, types.ResultValid, successConfidence(chain.TrustLevel, age, maxAge),
		"transaction %s confirmed with %d confirmations", p.TransactionHash, check.Confirmations)
	out.Signer = signer
	return out, nil
}

// parse is the structural check.
func parse(p *types.CrossChainProof, now time.Time) (parsedProof, *types.ValidationResult) {
	var out parsedProof
	malformed := func(format string, args ...any) (parsedProof, *types.ValidationResult) {
		r := result(p, types.ResultMalformedProof, 0, format, args...)
		return out, &r
	}

	if strings.TrimSpace(p.ProofID) == "" {
		return malformed("proof id is empty")
	}
	if time.Unix(p.Timestamp, 0).After(now.Add(maxClockSkew)) {
		return malformed("proof timestamp is in the future")
	}
	if _, err := hashing.ParseDigest(p.TransactionHash); err != nil {
		return malformed("transaction hash: %s", err.Error())
	}
	root, err := hashing.ParseDigest(p.MerkleRoot)
	if err != nil {
		return malformed("merkle root: %s", err.Error())
	}
	out.root = root
	data, err := hexutil.Decode(p.ProofData)
	if err != nil {
		return malformed("proof data: %s", err.Error())
	}
	out.data = data
	out.path = make([]hashing.Digest, 0, len(p.MerkleProof))
	for i, s := range p.MerkleProof {
		d, err := hashing.ParseDigest(s)
		if err != nil {
			return malformed("merkle proof element %d: %s", i, err.Error())
		}
		out.path = append(out.path, d)
	}
	return out, nil
}

func verifySignature(chain types.ChainConfig, hasher hashing.Hasher, p *types.CrossChainProof) (string, *types.ValidationResult) {
	invalid := func(format string, args ...any) (string, *types.ValidationResult) {
		r := result(p, types.ResultInvalidSignature, 0, format, args...)
		return "", &r
	}
	if len(chain.AuthorizedVerifiers) == 0 {
		return invalid("chain %d has no authorized verifiers", chain.ChainID)
	}
	scheme, err := hashing.NewScheme(chain.SignatureScheme)
	if err != nil {
		return invalid("%s", err.Error())
	}
	sig, err := hashing.DecodeSignature(p.VerifierSignature)
	if err != nil {
		return invalid("%s", err.Error())
	}
	digest, err := SigningDigest(hasher, p)
	if err != nil {
		return invalid("%s", err.Error())
	}
	signer, err := scheme.Recover(digest, sig)
	if err != nil {
		return invalid("%s", err.Error())
	}
	if !chain.IsAuthorizedVerifier(signer.Hex()) {
		return invalid("signer %s is not an authorized verifier", signer.Hex())
	}
	return signer.Hex(), nil
}

func successConfidence(trust float64, age, maxAge time.Duration) float64 {
	if maxAge <= 0 || age < 0 {
		return trust
	}
	return trust * (1 - maxAgePenalty*float64(age)/float64(maxAge))
}

// expiredConfidence falls from trust at the limit to zero at twice the limit.
func expiredConfidence(trust float64, age, maxAge time.Duration) float64 {
	if maxAge <= 0 {
		return 0
	}
	over := float64(age-maxAge) / float64(maxAge)
	return math.Max(0, trust*(1-over))
}

// CheckTransaction is the finality step on its own: the receipt must exist
// and succeed, sit in expectedBlock when that is non-zero, and be buried under
// the chain's minimum confirmations.
func (v *Validator) CheckTransaction(ctx context.Context, chainID int64, txHash string, expectedBlock uint64) (types.TxCheck, error) {
	chain, err := v.registry.Supported(chainID)
	if err != nil {
		return types.TxCheck{}, err
	}
	return v.checkTransaction(ctx, chain, txHash, expectedBlock, "")
}

func (v *Validator) checkTransaction(ctx context.Context, chain types.ChainConfig, txHash string, expectedBlock uint64, merkleRoot string) (types.TxCheck, error) {
	key := cacheKey{chainID: chain.ChainID, txHash: strings.ToLower(txHash), merkleRoot: strings.ToLower(merkleRoot)}
	required := chain.MinConfirmations

	check, hit := v.cache.Get(key)
	if !hit {
		var err error
		check, err = v.fetchTransaction(ctx, chain, txHash)
		if err != nil {
			return types.TxCheck{}, err
		}
		if check.Confirmed() {
			v.cache.Set(key, check)
		}
	}

	if check.Confirmed() && expectedBlock != 0 && check.Receipt.BlockNumber != expectedBlock {
		return types.TxCheck{
			Kind:     types.ResultBlockMismatch,
			Receipt:  check.Receipt,
			Required: required,
			Details:  fmt.Sprintf("transaction is in block %d, proof claims %d", check.Receipt.BlockNumber, expectedBlock),
		}, nil
	}
	return check, nil
}

func (v *Validator) fetchTransaction(ctx context.Context, chain types.ChainConfig, txHash string) (types.TxCheck, error) {
	required := chain.MinConfirmations
	client, err := v.clients.For(chain.ChainID)
	if err != nil {
		return types.TxCheck{}, err
	}

	receipt, err := client.TransactionReceipt(ctx, txHash)
	if types.KindOf(err) == types.KindNotFound {
		pending, perr := client.TransactionByHash(ctx, txHash)
		if perr == nil && pending {
			return types.TxCheck{
				Kind:     types.ResultInsufficientConfirmations,
				Required: required,
				Details:  fmt.Sprintf("transaction %s is pending, 0/%d confirmations", txHash, required),
			}, nil
		}
		if perr != nil && types.KindOf(perr) != types.KindNotFound {
			return types.TxCheck{}, perr
		}
		return types.TxCheck{
			Kind:     types.ResultTransactionNotFound,
			Required: required,
			Details:  fmt.Sprintf("transaction %s not found on chain %d", txHash, chain.ChainID),
		}, nil
	}
	if err != nil {
		return types.TxCheck{}, err
	}
	if !receipt.Success {
		return types.TxCheck{
			Kind:     types.ResultTransactionFailed,
			Receipt:  receipt,
			Required: required,
			Details:  fmt.Sprintf("transaction %s reverted", txHash),
		}, nil
	}

	current, err := client.BlockNumber(ctx)
	if err != nil {
		return types.TxCheck{}, err
	}
	confirmations := chainrpc.Confirmations(current, receipt.BlockNumber)
	if confirmations < required {
		return types.TxCheck{
			Kind:          types.ResultInsufficientConfirmations,
			Receipt:       receipt,
			Confirmations: confirmations,
			Required:      required,
			Details:       fmt.Sprintf("%d/%d confirmations", confirmations, required),
		}, nil
	}
	return types.TxCheck{
		Kind:          types.ResultValid,
		Receipt:       receipt,
		Confirmations: confirmations,
		Required:      required,
		Details:       fmt.Sprintf("%d confirmations", confirmations),
	}, nil
}

// ValidateBatch validates proofs concurrently; results keep the input order.
func (v *Validator) ValidateBatch(ctx context.Context, proofs []*types.CrossChainProof) ([]types.ValidationResult, error) {
	results := make([]types.ValidationResult, len(proofs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, p := range proofs {
		i, p := i, p
		g.Go(func() error {
			r, err := v.Validate(ctx, p)
			if err != nil {
				return fmt.Errorf("proof %s: %w", p.ProofID, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// IsFullyVerified reports whether every required chain has a valid proof.
func (v *Validator) IsFullyVerified(ctx context.Context, proofs []*types.CrossChainProof, requiredChains []int64) (bool, error) {
	results, err := v.ValidateBatch(ctx, proofs)
	if err != nil {
		return false, err
	}
	valid := make(map[int64]bool)
	for i, r := range results {
		if r.IsValid {
			valid[proofs[i].ChainID] = true
		}
	}
	for _, id := range requiredChains {
		if !valid[id] {
			return false, nil
		}
	}
	return true, nil
}

func (v *Validator) record(chainID int64, r types.ValidationResult) {
	v.metrics.ProofValidated(chainID, string(r.Kind))
	v.results.Set(resultKey{proofID: r.ProofID, chainID: chainID}, types.ChainVerification{
		ProofID:    r.ProofID,
		ChainID:    chainID,
		Verified:   r.IsValid,
		Kind:       r.Kind,
		Confidence: r.Confidence,
		Signer:     r.Signer,
		VerifiedAt: v.now().Unix(),
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	chain, ok := v.byChain[chainID]
	if !ok {
		chain = &types.VerificationStats{ByKind: make(map[types.ResultKind]uint64)}
		v.byChain[chainID] = chain
	}
	for _, st := range []*types.VerificationStats{&v.stats, chain} {
		st.Total++
		if r.IsValid {
			st.Valid++
		} else {
			st.Failed++
		}
		st.ByKind[r.Kind]++
	}
}

func copyStats(st *types.VerificationStats) types.VerificationStats {
	out := types.VerificationStats{Total: st.Total, Valid: st.Valid, Failed: st.Failed, ByKind: make(map[types.ResultKind]uint64, len(st.ByKind))}
	for k, n := range st.ByKind {
		out.ByKind[k] = n
	}
	return out
}

func (v *Validator) Stats() types.VerificationStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return copyStats(&v.stats)
}

// ChainStats counts the judged proofs of one chain; a chain without any has
// zero stats.
func (v *Validator) ChainStats(chainID int64) types.VerificationStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.byChain[chainID]
	if !ok {
		return types.VerificationStats{ByKind: map[types.ResultKind]uint64{}}
	}
	return copyStats(st)
}

// Result is the last judgement of proofID on chainID, kept for
// DefaultResultTTL unless configured otherwise.
func (v *Validator) Result(proofID string, chainID int64) (types.ChainVerification, error) {
	r, ok := v.results.Get(resultKey{proofID: proofID, chainID: chainID})
	if !ok {
		return types.ChainVerification{}, types.NewError(types.KindNotFound, "no verification of proof %s on chain %d", proofID, chainID)
	}
	return r, nil
}

// PurgeExpired drops expired transaction checks and verification results.
func (v *Validator) PurgeExpired(context.Context) (int, error) {
	return v.cache.Purge() + v.results.Purge(), nil
}
