package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Feed is an external gas price source that overrides the node's suggestion.
type Feed interface {
	GasPrice(ctx context.Context) (uint64, error)
}

// StationFeed reads a gas station endpoint in the Polygon v2 format and
// returns the standard max fee in wei.
type StationFeed struct {
	url    string
	client *retryablehttp.Client
}

func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil
	return c
}

func NewStationFeed(url string) *StationFeed {
	return &StationFeed{url: url, client: newRetryClient()}
}

type stationTier struct {
	MaxPriorityFee float64 `json:"maxPriorityFee"`
	MaxFee         float64 `json:"maxFee"`
}

type stationResponse struct {
	SafeLow          stationTier `json:"safeLow"`
	Standard         stationTier `json:"standard"`
	Fast             stationTier `json:"fast"`
	EstimatedBaseFee float64     `json:"estimatedBaseFee"`
	BlockNumber      uint64      `json:"blockNumber"`
}

func (f *StationFeed) GasPrice(ctx context.Context) (uint64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gas station request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gas station returned status %d", resp.StatusCode)
	}
	var data stationResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode gas station response: %w", err)
	}
	if data.Standard.MaxFee <= 0 {
		return 0, fmt.Errorf("gas station returned no standard fee")
	}
	// gwei to wei
	return uint64(math.Round(data.Standard.MaxFee * 1e9)), nil
}
