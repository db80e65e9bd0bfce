package types

// CrossChainProof is immutable; hashes are 0x-prefixed 32-byte hex digests,
// ProofData is 0x-prefixed hex of arbitrary length.
type CrossChainProof struct {
	ProofID           string   `json:"proofId"`
	ChainID           int64    `json:"chainId"`
	BlockNumber       uint64   `json:"blockNumber"`
	TransactionHash   string   `json:"transactionHash"`
	ProofData         string   `json:"proofData"`
	MerkleRoot        string   `json:"merkleRoot"`
	MerkleProof       []string `json:"merkleProof"`
	Timestamp         int64    `json:"timestamp"`
	VerifierSignature string   `json:"verifierSignature"`
}

type ResultKind string

const (
	ResultValid                     ResultKind = "Valid"
	ResultUnsupportedChain          ResultKind = "UnsupportedChain"
	ResultMalformedProof            ResultKind = "MalformedProof"
	ResultTransactionNotFound       ResultKind = "TransactionNotFound"
	ResultTransactionFailed         ResultKind = "TransactionFailed"
	ResultBlockMismatch             ResultKind = "BlockMismatch"
	ResultInsufficientConfirmations ResultKind = "InsufficientConfirmations"
	ResultInvalidMerkleProof        ResultKind = "InvalidMerkleProof"
	ResultExpired                   ResultKind = "Expired"
	ResultInvalidSignature          ResultKind = "InvalidSignature"
)

// ResultKinds lists every kind in pipeline order.
var ResultKinds = []ResultKind{
	ResultValid,
	ResultUnsupportedChain,
	ResultExpired,
	ResultMalformedProof,
	ResultTransactionNotFound,
	ResultTransactionFailed,
	ResultBlockMismatch,
	ResultInsufficientConfirmations,
	ResultInvalidMerkleProof,
	ResultInvalidSignature,
}

type ValidationResult struct {
	ProofID    string     `json:"proofId"`
	IsValid    bool       `json:"isValid"`
	Kind       ResultKind `json:"resultKind"`
	Confidence float64    `json:"confidence"`
	Details    string     `json:"details"`
	Signer     string     `json:"signer,omitempty"`
}

type VerificationStats struct {
	Total  uint64                `json:"total"`
	Valid  uint64                `json:"valid"`
	Failed uint64                `json:"failed"`
	ByKind map[ResultKind]uint64 `json:"byKind"`
}

// ChainVerification is the last judgement of one proof on one chain.
type ChainVerification struct {
	ProofID    string     `json:"proofId"`
	ChainID    int64      `json:"chainId"`
	Verified   bool       `json:"verified"`
	Kind       ResultKind `json:"resultKind"`
	Confidence float64    `json:"confidence"`
	Signer     string     `json:"signer,omitempty"`
	VerifiedAt int64      `json:"verifiedAt"`
}

// IssuedProof is a proof signed by one of its chain's verifiers.
type IssuedProof struct {
	CrossChainProof
	Issuer   string `json:"issuer"`
	IssuedAt int64  `json:"issuedAt"`
}

// Receipt is the chain-agnostic part of a transaction receipt.
type Receipt struct {
	TxHash            string `json:"txHash"`
	BlockNumber       uint64 `json:"blockNumber"`
	Success           bool   `json:"success"`
	GasUsed           uint64 `json:"gasUsed"`
	EffectiveGasPrice uint64 `json:"effectiveGasPrice"`
}

// TxCheck is the outcome of the on-chain finality check.
type TxCheck struct {
	Kind          ResultKind `json:"kind"`
	Receipt       *Receipt   `json:"receipt,omitempty"`
	Confirmations uint64     `json:"confirmations"`
	Required      uint64     `json:"required"`
	Details       string     `json:"details"`
}

func (c TxCheck) Confirmed() bool {
	return c.Kind == ResultValid
}
