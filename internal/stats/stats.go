// Package stats mutates the Document's counters. The package-level functions
// are meant to run inside a caller's store.Update so that counter changes and
// entity changes land in the same write.
package stats

import (
	"context"
	"fmt"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/store"
)

// Counter names one of the Statistics fields.
type Counter string

const (
	TotalAccesses  Counter = "totalAccesses"
	ActiveUsers    Counter = "activeUsers"
	ChatMessages   Counter = "chatMessages"
	ChatbotQueries Counter = "chatbotQueries"
)

func field(s *models.Statistics, c Counter) (*int64, error) {
	switch c {
	case TotalAccesses:
		return &s.TotalAccesses, nil
	case ActiveUsers:
		return &s.ActiveUsers, nil
	case ChatMessages:
		return &s.ChatMessages, nil
	case ChatbotQueries:
		return &s.ChatbotQueries, nil
	default:
		return nil, fmt.Errorf("%w: unknown counter %q", common.ErrValidation, c)
	}
}

// Increment adds delta to counter c.
func Increment(s *models.Statistics, c Counter, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("%w: negative delta %d", common.ErrValidation, delta)
	}
	v, err := field(s, c)
	if err != nil {
		return err
	}
	*v += delta
	return nil
}

// DecrementFloored subtracts delta from counter c without going below zero.
func DecrementFloored(s *models.Statistics, c Counter, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("%w: negative delta %d", common.ErrValidation, delta)
	}
	v, err := field(s, c)
	if err != nil {
		return err
	}
	*v = max(0, *v-delta)
	return nil
}

// Aggregator applies stand-alone counter events through the store.
type Aggregator struct {
	store  *store.Store
	logger logging.Logger
}

func NewAggregator(s *store.Store, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Aggregator{store: s, logger: logger.With("module", "stats")}
}

// Increment persists counter c += delta.
func (a *Aggregator) Increment(ctx context.Context, c Counter, delta int64) error {
	return a.store.Update(ctx, func(doc *models.Document) error {
		return Increment(&doc.Statistics, c, delta)
	})
}

// DecrementFloored persists counter c = max(0, c-delta).
func (a *Aggregator) DecrementFloored(ctx context.Context, c Counter, delta int64) error {
	return a.store.Update(ctx, func(doc *models.Document) error {
		return DecrementFloored(&doc.Statistics, c, delta)
	})
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot(ctx context.Context) (models.Statistics, error) {
	var out models.Statistics
	err := a.store.View(ctx, func(doc *models.Document) error {
		out = doc.Statistics
		return nil
	})
	return out, err
}

// RecordChatMessage counts one broadcast chat message. Failures are logged and
// swallowed; the message has already been delivered.
func (a *Aggregator) RecordChatMessage(ctx context.Context) {
	if err := a.Increment(ctx, ChatMessages, 1); err != nil {
		a.logger.Warn(ctx, "failed to record chat message", "error", err)
	}
}
