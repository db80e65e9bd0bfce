package types

import (
	"math/big"
	"strings"
	"time"
)

type GasStrategy string

const (
	StrategyConservative GasStrategy = "conservative"
	StrategyBalanced     GasStrategy = "balanced"
	StrategyAggressive   GasStrategy = "aggressive"
)

// GasSample is one observation of a chain's fee market.
type GasSample struct {
	Timestamp   int64   `json:"timestamp"`
	GasPrice    uint64  `json:"gasPrice"`
	BaseFee     uint64  `json:"baseFee,omitempty"`
	BlockNumber uint64  `json:"blockNumber"`
	Utilization float64 `json:"utilization"`
}

type GasOptimizationResult struct {
	ChainID              int64       `json:"chainId"`
	GasLimit             uint64      `json:"gasLimit"`
	GasPrice             uint64      `json:"gasPrice"`
	MaxFeePerGas         uint64      `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas uint64      `json:"maxPriorityFeePerGas,omitempty"`
	EstimatedCost        *big.Int    `json:"estimatedCost"`
	OptimizedCost        *big.Int    `json:"optimizedCost"`
	Savings              *big.Int    `json:"savings"`
	SavingsPercentage    float64     `json:"savingsPercentage"`
	Strategy             GasStrategy `json:"strategy"`
	Confidence           float64     `json:"confidence"`
	FellBack             bool        `json:"fellBack,omitempty"`
}

type FeeEstimate struct {
	FromChain int64                 `json:"fromChain"`
	ToChain   int64                 `json:"toChain"`
	Amount    string                `json:"amount"`
	Token     string                `json:"token,omitempty"`
	Source    GasOptimizationResult `json:"source"`
	Target    GasOptimizationResult `json:"target"`
	TotalCost *big.Int              `json:"totalCost"`
}

type OptimalWindow struct {
	ChainID      int64     `json:"chainId"`
	Hour         int       `json:"hour"`
	StartsAt     time.Time `json:"startsAt"`
	AveragePrice uint64    `json:"averagePrice"`
	Samples      int       `json:"samples"`
}

func SameAddress(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// BucketByHour averages sample prices per UTC hour of day and counts the
// samples behind each hour.
func BucketByHour(samples []GasSample) (map[int]uint64, map[int]int) {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, s := range samples {
		h := time.Unix(s.Timestamp, 0).UTC().Hour()
		sums[h] += float64(s.GasPrice)
		counts[h]++
	}
	avgs := make(map[int]uint64, len(sums))
	for h, sum := range sums {
		avgs[h] = uint64(sum / float64(counts[h]))
	}
	return avgs, counts
}
