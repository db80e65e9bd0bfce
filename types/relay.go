package types

import "slices"

// Relayer is an operator accountable for delivering messages to the chains
// it supports. SuccessRate is a percentage and starts at 100.
type Relayer struct {
	RelayerID       string        `json:"relayerId"`
	Address         string        `json:"address"`
	SupportedChains []int64       `json:"supportedChains"`
	FeePercentage   uint32        `json:"feePercentage"`
	Status          RelayerStatus `json:"status"`
	TotalMessages   uint64        `json:"totalMessages"`
	Delivered       uint64        `json:"delivered"`
	SuccessRate     uint32        `json:"successRate"`
	RegisteredAt    int64         `json:"registeredAt"`
}

func (r *Relayer) Supports(chainID int64) bool {
	return slices.Contains(r.SupportedChains, chainID)
}

type QueuePriority string

const (
	PriorityLow      QueuePriority = "Low"
	PriorityMedium   QueuePriority = "Medium"
	PriorityHigh     QueuePriority = "High"
	PriorityCritical QueuePriority = "Critical"
)

var QueuePriorities = []QueuePriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// Rank orders priorities, higher first; unknown priorities rank below Low.
func (p QueuePriority) Rank() int {
	return slices.Index(QueuePriorities, p)
}

func (p QueuePriority) Valid() bool { return p.Rank() >= 0 }

// MessageQueue bounds the open messages bound for one chain. Membership is
// the open messages whose QueueID names the queue.
type MessageQueue struct {
	QueueID   string        `json:"queueId"`
	ChainID   int64         `json:"chainId"`
	Priority  QueuePriority `json:"priority"`
	MaxSize   int           `json:"maxSize"`
	CreatedAt int64         `json:"createdAt"`
}
