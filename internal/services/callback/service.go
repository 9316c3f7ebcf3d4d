// Package callback is the processor callback intake: dedup fast path,
// normalization, application, marker.
package callback

import (
	"context"
	"fmt"

	"walletledger/internal/metrics"
	"walletledger/internal/services/events"
	"walletledger/internal/services/intent"

	"go.uber.org/zap"
)

// Dedup remembers processor event ids that were already applied. It is a
// shortcut only; the ledger store decides idempotence.
type Dedup interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID string) error
}

type Result struct {
	EventID   string
	Intent    string
	Duplicate bool
	Outcome   *intent.Outcome
}

type Service struct {
	applier intent.Applier
	dedup   Dedup
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewService(applier intent.Applier, dedup Dedup, logger *zap.Logger, mc metrics.Collector) *Service {
	if applier == nil {
		panic("intent applier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Service{applier: applier, dedup: dedup, logger: logger, metrics: mc}
}

// Handle processes one verified event. Errors are returned for events that
// could not be understood or applied; duplicates are not errors.
func (s *Service) Handle(ctx context.Context, ev events.Event) (*Result, error) {
	log := s.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))
	res := &Result{EventID: ev.ID}

	if s.seen(ctx, log, ev.ID) {
		log.Info("event already processed")
		res.Duplicate = true
		s.metrics.RecordEvent(ev.Type, metrics.ResultDuplicate)
		return res, nil
	}

	in, err := events.Normalize(ev)
	if err != nil {
		log.Warn("event rejected", zap.Error(err))
		s.metrics.RecordEvent(ev.Type, metrics.ResultRejected)
		return nil, err
	}
	res.Intent = in.Name()

	out, err := s.applier.Apply(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	res.Outcome = out
	res.Duplicate = out.Duplicate

	if ev.ID != "" && s.dedup != nil {
		if err := s.dedup.MarkEventProcessed(context.WithoutCancel(ctx), ev.ID); err != nil {
			log.Warn("failed to record processed event", zap.Error(err))
		}
	}
	return res, nil
}

func (s *Service) seen(ctx context.Context, log *zap.Logger, eventID string) bool {
	if eventID == "" || s.dedup == nil {
		return false
	}
	seen, err := s.dedup.IsEventProcessed(ctx, eventID)
	if err != nil {
		log.Warn("processed-event lookup failed, applying anyway", zap.Error(err))
		return false
	}
	return seen
}
