// Package events publishes state changes of transfers, messages and swaps to
// downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Entity string

const (
	EntityTransfer Entity = "transfer"
	EntityMessage  Entity = "message"
	EntitySwap     Entity = "swap"
	EntityProposal Entity = "proposal"
)

type Event struct {
	ID       string          `json:"id"`
	Entity   Entity          `json:"entity"`
	EntityID string          `json:"entityId"`
	ChainID  int64           `json:"chainId"`
	Status   string          `json:"status"`
	At       int64           `json:"at"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id; data is marshalled best effort.
func New(entity Entity, entityID string, chainID int64, status string, at time.Time, data any) Event {
	ev := Event{
		ID:       uuid.New().String(),
		Entity:   entity,
		EntityID: entityID,
		ChainID:  chainID,
		Status:   status,
		At:       at.Unix(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher writes events to the service log, used when no broker is configured.
type LogPublisher struct {
	logs *zap.SugaredLogger
}

func NewLogPublisher(logs *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logs: logs}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logs.Infow("event", "entity", ev.Entity, "id", ev.EntityID, "chainId", ev.ChainID, "status", ev.Status)
	return nil
}

// Emit publishes ev and logs a failed publish instead of failing the caller:
// the state change it describes has already been committed.
func Emit(ctx context.Context, p Publisher, logs *zap.SugaredLogger, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		logs.Warnw("failed to publish event", "entity", ev.Entity, "id", ev.EntityID, "status", ev.Status, "error", err)
	}
}
