// Package intent applies normalized processor intents to the ledger. Every
// intent reduces to one atomic store call; redelivery of an intent that was
// already applied is a no-op reported as a duplicate.
package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/metrics"
	"walletledger/internal/models"
	"walletledger/internal/repositories"
	"walletledger/internal/services/events"
	"walletledger/internal/utils/retry"

	"go.uber.org/zap"
)

type Processor struct {
	store   repositories.LedgerStore
	cache   WalletCache
	policy  retry.Policy
	logger  *zap.Logger
	metrics metrics.Collector
}

func NewProcessor(store repositories.LedgerStore, cache WalletCache, policy retry.Policy, logger *zap.Logger, mc metrics.Collector) *Processor {
	if store == nil {
		panic("ledger store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	return &Processor{
		store:   store,
		cache:   cache,
		policy:  policy,
		logger:  logger,
		metrics: mc,
	}
}

var _ Applier = (*Processor)(nil)

func (p *Processor) Apply(ctx context.Context, in events.Intent) (*Outcome, error) {
	start := time.Now()
	defer func() { p.metrics.RecordOperationDuration("apply_intent", time.Since(start)) }()

	hdr := in.Header()
	log := p.logger.With(
		zap.String("intent", in.Name()),
		zap.String("event_id", hdr.EventID),
		zap.String("reference", hdr.Reference),
		zap.String("wallet_id", hdr.WalletID),
	)

	req := repositories.TransitionRequest{
		Reference:     hdr.Reference,
		TransactionID: hdr.TransactionID,
		WalletID:      hdr.WalletID,
		Kind:          in.Kind(),
		Target:        in.Target(),
	}

	var res *repositories.TransitionResult
	err := p.withRetry(ctx, "transition", func(ctx context.Context) error {
		var err error
		res, err = p.store.TransitionTransaction(ctx, req)
		return err
	})

	switch {
	case err == nil:
		p.checkAmount(log, in, res.Transaction)
		p.invalidate(ctx, log, res.Wallet.ID)
		log.Info("intent applied",
			zap.String("transaction_id", res.Transaction.ID),
			zap.String("status", string(res.Transaction.Status)),
			zap.Int64("delta", res.Effect.Delta),
			zap.Int64("balance", res.Wallet.Balance))
		p.metrics.RecordEvent(in.Name(), metrics.ResultSuccess)
		return &Outcome{Transaction: res.Transaction, Wallet: res.Wallet, Delta: res.Effect.Delta}, nil

	case errors.Is(err, apperrors.ErrAlreadyTerminal):
		fields := []zap.Field{zap.String("status", string(res.Transaction.Status))}
		if res.Transaction.Status != in.Target() {
			log.Warn("intent conflicts with recorded terminal status", fields...)
		} else {
			log.Info("duplicate intent ignored", fields...)
		}
		p.metrics.RecordEvent(in.Name(), metrics.ResultDuplicate)
		return &Outcome{Transaction: res.Transaction, Wallet: res.Wallet, Duplicate: true}, nil

	case errors.Is(err, apperrors.ErrTransactionNotFound):
		if deposit, ok := in.(events.DepositSucceeded); ok {
			return p.settle(ctx, log, deposit)
		}
	}

	p.fail(log, in, err)
	return nil, fmt.Errorf("apply %s %s: %w", in.Name(), hdr.Reference, err)
}

// settle records a deposit this service never saw initiated. The reference
// is unique, so a concurrent or repeated delivery loses the insert and is
// reported as a duplicate.
func (p *Processor) settle(ctx context.Context, log *zap.Logger, in events.DepositSucceeded) (*Outcome, error) {
	var res *repositories.TransitionResult
	err := p.withRetry(ctx, "settle_deposit", func(ctx context.Context) error {
		ref := in.Reference
		tx := &models.Transaction{
			WalletID:          in.WalletID,
			Amount:            in.Amount,
			Kind:              models.KindDeposit,
			Status:            models.StatusSuccess,
			ExternalReference: &ref,
			Metadata: models.NewJSON(map[string]interface{}{
				"event_id": in.EventID,
				"source":   "callback",
			}),
		}
		var err error
		res, err = p.store.SettleDeposit(ctx, tx)
		return err
	})

	if errors.Is(err, apperrors.ErrDuplicateReference) {
		log.Info("duplicate deposit settlement ignored")
		p.metrics.RecordEvent(in.Name(), metrics.ResultDuplicate)
		return &Outcome{Duplicate: true}, nil
	}
	if err != nil {
		p.fail(log, in, err)
		return nil, fmt.Errorf("settle deposit %s: %w", in.Reference, err)
	}

	p.invalidate(ctx, log, res.Wallet.ID)
	log.Info("untracked deposit settled",
		zap.String("transaction_id", res.Transaction.ID),
		zap.Int64("amount", in.Amount),
		zap.Int64("balance", res.Wallet.Balance))
	p.metrics.RecordEvent(in.Name(), metrics.ResultSuccess)
	return &Outcome{Transaction: res.Transaction, Wallet: res.Wallet, Delta: in.Amount, Settled: true}, nil
}

func (p *Processor) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.policy, apperrors.IsTransient, func(ctx context.Context) error {
		if attempt > 0 {
			p.metrics.RecordRetry(op)
		}
		attempt++
		return fn(ctx)
	})
}

// checkAmount logs when the event disagrees with the stored amount. The
// stored amount is what moved the balance.
func (p *Processor) checkAmount(log *zap.Logger, in events.Intent, tx *models.Transaction) {
	var amount int64
	switch v := in.(type) {
	case events.DepositSucceeded:
		amount = v.Amount
	case events.PayoutFailed:
		amount = v.Amount
		if v.Reason != "" {
			log.Info("payout failed at processor", zap.String("reason", v.Reason))
		}
	default:
		return
	}
	if amount != tx.Amount {
		log.Warn("event amount differs from recorded amount",
			zap.Int64("event_amount", amount),
			zap.Int64("recorded_amount", tx.Amount))
	}
}

func (p *Processor) invalidate(ctx context.Context, log *zap.Logger, walletID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateWallet(ctx, walletID); err != nil {
		log.Warn("failed to invalidate wallet cache", zap.Error(err))
	}
}

func (p *Processor) fail(log *zap.Logger, in events.Intent, err error) {
	if errors.Is(err, apperrors.ErrSchemaViolation) {
		log.Error("ledger state violates invariants", zap.Error(err))
	} else {
		log.Warn("intent not applied", zap.Error(err))
	}
	p.metrics.RecordEvent(in.Name(), metrics.ResultError)
}
