package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CrossChainTransfer is keyed by the caller supplied TransferID,
// only the orchestrator mutates it
type CrossChainTransfer struct {
	TransferID   string         `json:"transferId"`
	FromChain    int64          `json:"fromChain"`
	ToChain      int64          `json:"toChain"`
	Sender       string         `json:"sender"`
	Recipient    string         `json:"recipient"`
	Amount       string         `json:"amount"`
	TokenAddress string         `json:"tokenAddress,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Status       TransferStatus `json:"status"`
	ProofHash    string         `json:"proofHash"`
	MessageID    string         `json:"messageId,omitempty"`
	GasPrice     uint64         `json:"gasPrice,omitempty"`
	GasUsed      uint64         `json:"gasUsed,omitempty"`
	Fee          string         `json:"fee,omitempty"`
	TxHash       string         `json:"txHash,omitempty"`
	Message      string         `json:"message,omitempty"` // failure details
	UpdatedAt    int64          `json:"updatedAt"`
}

type MessageType string

const (
	MessageProofVerification MessageType = "ProofVerification"
	MessageAssetTransfer     MessageType = "AssetTransfer"
	MessageAtomicSwap        MessageType = "AtomicSwap"
	MessageGeneric           MessageType = "Generic"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageProofVerification, MessageAssetTransfer, MessageAtomicSwap, MessageGeneric:
		return true
	}
	return false
}

// BridgeMessage is owned by the messenger
type BridgeMessage struct {
	MessageID    string        `json:"messageId"`
	SourceChain  int64         `json:"sourceChain"`
	TargetChain  int64         `json:"targetChain"`
	Sender       string        `json:"sender"`
	Recipient    string        `json:"recipient"`
	Type         MessageType   `json:"messageType"`
	Payload      hexutil.Bytes `json:"payload"`
	Nonce        uint64        `json:"nonce"`
	Signature    string        `json:"signature"`
	Status       MessageStatus `json:"status"`
	CreatedAt    int64         `json:"createdAt"`
	SubmittedAt  int64         `json:"submittedAt,omitempty"` // start of the current delivery window
	ProcessedAt  int64         `json:"processedAt,omitempty"`
	GasPrice     uint64        `json:"gasPrice,omitempty"`
	GasUsed      uint64        `json:"gasUsed"`
	Fee          string        `json:"fee,omitempty"`
	SubmitTxHash string        `json:"submitTxHash,omitempty"`
	Attempts     int           `json:"attempts"`
	LastError    string        `json:"lastError,omitempty"`
	QueueID      string        `json:"queueId,omitempty"`
	Relayer      string        `json:"relayer,omitempty"` // relayer id
}

// WindowStart is when the current delivery attempt began. Records written
// before SubmittedAt existed fall back to CreatedAt.
func (m *BridgeMessage) WindowStart() int64 {
	if m.SubmittedAt != 0 {
		return m.SubmittedAt
	}
	return m.CreatedAt
}

// Expired is the single expiry predicate shared by lazy checks and sweeps.
func (m *BridgeMessage) Expired(now time.Time, timeout time.Duration) bool {
	return m.Status.Open() && now.Sub(time.Unix(m.WindowStart(), 0)) > timeout
}

type SwapAsset struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
	Decimals     uint8  `json:"decimals"`
}

// AtomicSwap never stores the secret, only its hash
type AtomicSwap struct {
	SwapID           string     `json:"swapId"`
	Initiator        string     `json:"initiator"`
	Participant      string     `json:"participant,omitempty"`
	InitiatorChain   int64      `json:"initiatorChain"`
	ParticipantChain int64      `json:"participantChain"`
	InitiatorAsset   SwapAsset  `json:"initiatorAsset"`
	ParticipantAsset SwapAsset  `json:"participantAsset"`
	SecretHash       string     `json:"secretHash"`
	Timelock         int64      `json:"timelock"`
	Status           SwapStatus `json:"status"`
	CreatedAt        int64      `json:"createdAt"`
	FundedAt         int64      `json:"fundedAt,omitempty"`
	SettledAt        int64      `json:"settledAt,omitempty"`
	Legs             []SwapLeg  `json:"legs,omitempty"` // initiator leg first
}

type LegStatus string

const (
	LegPending  LegStatus = "pending"
	LegLocked   LegStatus = "locked"
	LegClaimed  LegStatus = "claimed"
	LegRefunded LegStatus = "refunded"
)

// SwapLeg is the on-chain progress of one side of a swap. It is saved after
// every contract call so a retry never repeats a call that already landed.
type SwapLeg struct {
	ChainID  int64     `json:"chainId"`
	Status   LegStatus `json:"status"`
	LockTx   string    `json:"lockTx,omitempty"`
	SettleTx string    `json:"settleTx,omitempty"`
}

// Leg returns the leg on chainID, creating pending legs for records that
// predate per-leg tracking.
func (s *AtomicSwap) Leg(chainID int64) *SwapLeg {
	if len(s.Legs) == 0 {
		s.Legs = []SwapLeg{
			{ChainID: s.InitiatorChain, Status: LegPending},
			{ChainID: s.ParticipantChain, Status: LegPending},
		}
	}
	for i := range s.Legs {
		if s.Legs[i].ChainID == chainID {
			return &s.Legs[i]
		}
	}
	return nil
}

// TimelockPassed is the single expiry predicate for swaps.
func (s *AtomicSwap) TimelockPassed(now time.Time) bool {
	return now.Unix() > s.Timelock
}

func (s *AtomicSwap) Involves(address string) bool {
	return SameAddress(s.Initiator, address) || SameAddress(s.Participant, address)
}

// SwapProposal is a swap offered to a named participant. The secret hash is
// fixed when the proposal is made; the timelock starts on acceptance.
type SwapProposal struct {
	ProposalID       string         `json:"proposalId"`
	Proposer         string         `json:"proposer"`
	Participant      string         `json:"participant"`
	InitiatorChain   int64          `json:"initiatorChain"`
	ParticipantChain int64          `json:"participantChain"`
	InitiatorAsset   SwapAsset      `json:"initiatorAsset"`
	ParticipantAsset SwapAsset      `json:"participantAsset"`
	SecretHash       string         `json:"secretHash"`
	TimelockSeconds  int64          `json:"timelockSeconds"`
	Status           ProposalStatus `json:"status"`
	SwapID           string         `json:"swapId,omitempty"`
	CreatedAt        int64          `json:"createdAt"`
	ClosedAt         int64          `json:"closedAt,omitempty"`
}

// HTLCLeg is one side of a swap as locked in a chain's HTLC contract.
type HTLCLeg struct {
	ChainID      int64     `json:"chainId"`
	SwapID       string    `json:"swapId"`
	Counterparty string    `json:"counterparty"`
	Asset        SwapAsset `json:"asset"`
	SecretHash   string    `json:"secretHash"`
	Timelock     int64     `json:"timelock"`
}
