package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/komodo-checkout/internal/checkout"
	"github.com/example/komodo-checkout/internal/infrastructure/store"
	"github.com/example/komodo-checkout/internal/logging"
	"github.com/example/komodo-checkout/internal/readmodel"
	"go.uber.org/zap"
)

// Projector folds checkout events into the attempt journal. Events may
// arrive more than once or out of order; a finished attempt never goes
// back to submitted.
type Projector struct {
	readStore store.ReadStoreInterface
	logger    *zap.Logger
}

func NewProjector(readStore store.ReadStoreInterface, logger *zap.Logger) *Projector {
	return &Projector{
		readStore: readStore,
		logger:    logging.OrNop(logger).Named("projector"),
	}
}

// HandleEvent projects one JSON encoded event envelope. It matches
// kafka.MessageHandler.
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	p.logger.Debug("received event",
		zap.String("event_type", event.EventType),
		zap.String("aggregate_id", event.AggregateID),
		zap.Int("version", event.Version),
	)

	switch event.AggregateType {
	case checkout.AggregateType:
		return p.handleCheckoutEvent(ctx, event)
	}

	return nil
}

// Publish projects event in-process. It stands in for a broker when none
// is configured.
func (p *Projector) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.HandleEvent(ctx, []byte(key), data)
}

// Replay projects stored events in order, logging the ones that fail
func (p *Projector) Replay(ctx context.Context, events []store.Event) int {
	projected := 0
	for _, event := range events {
		data, err := event.MarshalJSON()
		if err != nil {
			continue
		}
		if err := p.HandleEvent(ctx, []byte(event.AggregateID), data); err != nil {
			p.logger.Warn("error replaying event", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		projected++
	}
	return projected
}

func (p *Projector) handleCheckoutEvent(ctx context.Context, event store.Event) error {
	attempt, err := p.load(ctx, event.AggregateID, event.Timestamp)
	if err != nil {
		return err
	}

	switch event.EventType {
	case checkout.EventCheckoutSubmitted:
		var e checkout.CheckoutSubmitted
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		attempt.UserID = e.UserID
		attempt.StandID = e.StandID
		attempt.TotalAmount = e.TotalAmount
		attempt.ItemCount = e.ItemCount
		attempt.IdempotencyKey = e.IdempotencyKey
		attempt.CreatedAt = e.SubmittedAt
		if !attempt.Finished() {
			attempt.Status = readmodel.AttemptSubmitted
			attempt.UpdatedAt = e.SubmittedAt
		}

	case checkout.EventCheckoutSucceeded:
		var e checkout.CheckoutSucceeded
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		orderID := e.OrderID
		attempt.UserID = e.UserID
		attempt.Status = readmodel.AttemptSucceeded
		attempt.OrderID = &orderID
		attempt.Error = ""
		attempt.UpdatedAt = e.SucceededAt

	case checkout.EventCheckoutFailed:
		var e checkout.CheckoutFailed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		if attempt.Status == readmodel.AttemptSucceeded {
			return nil
		}
		attempt.UserID = e.UserID
		attempt.Status = readmodel.AttemptFailed
		attempt.Error = e.Error
		attempt.UpdatedAt = e.FailedAt

	default:
		return nil
	}

	return p.readStore.SaveAttempt(ctx, attempt)
}

func (p *Projector) load(ctx context.Context, id string, at time.Time) (*readmodel.CheckoutAttemptReadModel, error) {
	attempt, ok, err := p.readStore.GetAttempt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt %s: %w", id, err)
	}
	if ok {
		return attempt, nil
	}
	return &readmodel.CheckoutAttemptReadModel{
		ID:        id,
		Status:    readmodel.AttemptSubmitted,
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}
