package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/metrics"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

const breakerName = "stripe"

type payoutCreator interface {
	New(params *stripe.PayoutParams) (*stripe.Payout, error)
}

type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

type StripeGateway struct {
	payouts payoutCreator
	intents intentCreator
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
	metrics metrics.Collector
}

// NewStripeGateway builds a gateway on an explicit client handle. The global
// stripe.Key is never touched.
func NewStripeGateway(secretKey string, timeout time.Duration, bc BreakerConfig, logger *zap.Logger, mc metrics.Collector) *StripeGateway {
	sc := client.New(secretKey, nil)
	return newStripeGateway(sc.Payouts, sc.PaymentIntents, timeout, bc, logger, mc)
}

func newStripeGateway(payouts payoutCreator, intents intentCreator, timeout time.Duration, bc BreakerConfig, logger *zap.Logger, mc metrics.Collector) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mc == nil {
		mc = metrics.Noop{}
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = 5
	}

	g := &StripeGateway{
		payouts: payouts,
		intents: intents,
		timeout: timeout,
		logger:  logger,
		metrics: mc,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		// A refusal is a healthy processor saying no.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, apperrors.ErrProcessorRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			mc.RecordBreakerState(name, to.String())
		},
	})
	return g
}

func (g *StripeGateway) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if req.Amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}

	res, err := g.call(ctx, "create_payout", func(ctx context.Context) (interface{}, error) {
		params := &stripe.PayoutParams{
			Amount:   stripe.Int64(req.Amount),
			Currency: stripe.String(req.Currency),
		}
		params.Context = ctx
		params.SetIdempotencyKey("payout-" + req.TransactionID)
		params.AddMetadata(MetadataWalletID, req.WalletID)
		params.AddMetadata(MetadataTransactionID, req.TransactionID)
		return g.payouts.New(params)
	})
	if err != nil {
		return nil, err
	}

	po := res.(*stripe.Payout)
	return &PayoutResult{Reference: po.ID, Status: string(po.Status)}, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.Amount <= 0 {
		return nil, apperrors.ErrInvalidAmount
	}

	res, err := g.call(ctx, "create_payment_intent", func(ctx context.Context) (interface{}, error) {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(req.Amount),
			Currency: stripe.String(req.Currency),
		}
		params.Context = ctx
		params.SetIdempotencyKey("deposit-" + req.TransactionID)
		params.AddMetadata(MetadataWalletID, req.WalletID)
		params.AddMetadata(MetadataTransactionID, req.TransactionID)
		return g.intents.New(params)
	})
	if err != nil {
		return nil, err
	}

	pi := res.(*stripe.PaymentIntent)
	return &IntentResult{Reference: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// call runs fn under the breaker with its own deadline and maps whatever
// comes back onto the two processor failure classes.
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	res, err := g.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		out, err := fn(cctx)
		if err != nil {
			return nil, classify(err)
		}
		return out, nil
	})
	g.metrics.RecordOperationDuration(op, time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: circuit %s", apperrors.ErrUpstreamUnavailable, err)
		}
		result := metrics.ResultError
		if errors.Is(err, apperrors.ErrProcessorRejected) {
			result = metrics.ResultRejected
		}
		g.metrics.RecordOperationResult(op, result)
		g.logger.Warn("processor call failed", zap.String("operation", op), zap.Error(err))
		return nil, err
	}
	g.metrics.RecordOperationResult(op, metrics.ResultSuccess)
	return res, nil
}

// classify maps a processor error. Only a definite 4xx answer other than
// rate limiting counts as a rejection. Anything else leaves the outcome unknown.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		status := se.HTTPStatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s (%s)", apperrors.ErrProcessorRejected, se.Msg, se.Code)
		}
		return fmt.Errorf("%w: status %d: %s", apperrors.ErrUpstreamUnavailable, status, se.Msg)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUpstreamUnavailable, err)
}
