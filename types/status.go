package types

import "slices"

// status enums are closed sets; every move goes through a transition table

type transitionTable[S ~string] map[S][]S

func (t transitionTable[S]) allows(from, to S) bool {
	return slices.Contains(t[from], to)
}

func (t transitionTable[S]) transition(entity string, from, to S) (S, error) {
	if !t.allows(from, to) {
		return from, NewError(KindInvalidStateTransition, "%s cannot move from %s to %s", entity, from, to)
	}
	return to, nil
}

type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferInProgress TransferStatus = "in_progress"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
)

var TransferStatuses = []TransferStatus{TransferPending, TransferInProgress, TransferCompleted, TransferFailed}

var transferTransitions = transitionTable[TransferStatus]{
	TransferPending:    {TransferInProgress, TransferCompleted, TransferFailed},
	TransferInProgress: {TransferCompleted, TransferFailed},
}

func (s TransferStatus) Valid() bool { return slices.Contains(TransferStatuses, s) }

func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

func (s TransferStatus) Transition(to TransferStatus) (TransferStatus, error) {
	return transferTransitions.transition("transfer", s, to)
}

type MessageStatus string

const (
	MessagePending   MessageStatus = "Pending"
	MessageInTransit MessageStatus = "InTransit"
	MessageDelivered MessageStatus = "Delivered"
	MessageFailed    MessageStatus = "Failed"
	MessageExpired   MessageStatus = "Expired"
)

var MessageStatuses = []MessageStatus{MessagePending, MessageInTransit, MessageDelivered, MessageFailed, MessageExpired}

// Failed -> Pending is the caller-driven retry path.
var messageTransitions = transitionTable[MessageStatus]{
	MessagePending:   {MessageInTransit, MessageFailed, MessageExpired},
	MessageInTransit: {MessageDelivered, MessageExpired},
	MessageFailed:    {MessagePending},
}

func (s MessageStatus) Valid() bool { return slices.Contains(MessageStatuses, s) }

// Open reports whether the message can still expire.
func (s MessageStatus) Open() bool {
	return s == MessagePending || s == MessageInTransit
}

func (s MessageStatus) Transition(to MessageStatus) (MessageStatus, error) {
	return messageTransitions.transition("message", s, to)
}

type SwapStatus string

const (
	SwapInitiated SwapStatus = "Initiated"
	SwapFunded    SwapStatus = "Funded"
	SwapRedeemed  SwapStatus = "Redeemed"
	SwapRefunded  SwapStatus = "Refunded"
	SwapExpired   SwapStatus = "Expired"
	SwapCancelled SwapStatus = "Cancelled"
)

var SwapStatuses = []SwapStatus{SwapInitiated, SwapFunded, SwapRedeemed, SwapRefunded, SwapExpired, SwapCancelled}

var swapTransitions = transitionTable[SwapStatus]{
	SwapInitiated: {SwapFunded, SwapExpired, SwapCancelled, SwapRefunded},
	SwapFunded:    {SwapRedeemed, SwapRefunded, SwapExpired},
	SwapExpired:   {SwapRefunded},
}

func (s SwapStatus) Valid() bool { return slices.Contains(SwapStatuses, s) }

// Settled swaps are never touched again, not even by expiry.
func (s SwapStatus) Settled() bool {
	return s == SwapRedeemed || s == SwapRefunded || s == SwapCancelled
}

func (s SwapStatus) Transition(to SwapStatus) (SwapStatus, error) {
	return swapTransitions.transition("swap", s, to)
}

type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "Open"
	ProposalAccepted  ProposalStatus = "Accepted"
	ProposalWithdrawn ProposalStatus = "Withdrawn"
)

var ProposalStatuses = []ProposalStatus{ProposalOpen, ProposalAccepted, ProposalWithdrawn}

var proposalTransitions = transitionTable[ProposalStatus]{
	ProposalOpen: {ProposalAccepted, ProposalWithdrawn},
}

func (s ProposalStatus) Transition(to ProposalStatus) (ProposalStatus, error) {
	return proposalTransitions.transition("proposal", s, to)
}

type RelayerStatus string

const (
	RelayerActive   RelayerStatus = "active"
	RelayerInactive RelayerStatus = "inactive"
)

var RelayerStatuses = []RelayerStatus{RelayerActive, RelayerInactive}

var relayerTransitions = transitionTable[RelayerStatus]{
	RelayerActive:   {RelayerInactive},
	RelayerInactive: {RelayerActive},
}

func (s RelayerStatus) Transition(to RelayerStatus) (RelayerStatus, error) {
	return relayerTransitions.transition("relayer", s, to)
}
