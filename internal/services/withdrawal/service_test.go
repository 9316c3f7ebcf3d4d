package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "walletledger/internal/errors"
	"walletledger/internal/metrics"
	"walletledger/internal/models"
	"walletledger/internal/repositories"
	"walletledger/internal/services/payment"
	"walletledger/internal/utils/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePayout(ctx context.Context, req payment.PayoutRequest) (*payment.PayoutResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*payment.PayoutResult)
	return res, args.Error(1)
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*payment.IntentResult)
	return res, args.Error(1)
}

func setup(t *testing.T, balance int64) (*repositories.MemoryStore, *models.Wallet, *mockGateway, Service) {
	t.Helper()
	ctx := context.Background()
	store := repositories.NewMemoryStore()
	w := &models.Wallet{OwnerID: "owner-1", Currency: "usd"}
	require.NoError(t, store.CreateWallet(ctx, w))
	ref := "pi_opening"
	_, err := store.SettleDeposit(ctx, &models.Transaction{
		WalletID: w.ID, Amount: balance, Kind: models.KindDeposit, Status: models.StatusSuccess, ExternalReference: &ref,
	})
	require.NoError(t, err)

	gw := &mockGateway{}
	svc := NewService(store, gw, nil, Config{
		StoreTimeout: time.Second,
		Retry:        retry.Policy{Attempts: 10, Base: time.Microsecond, Max: time.Millisecond},
	}, zap.NewNop(), metrics.Noop{})
	return store, w, gw, svc
}

func balanceOf(t *testing.T, store *repositories.MemoryStore, walletID string) int64 {
	t.Helper()
	w, totals, err := store.Snapshot(context.Background(), walletID)
	require.NoError(t, err)
	require.Equal(t, totals.ExpectedBalance(), w.Balance)
	return w.Balance
}

func TestWithdraw_InsufficientFundsMutatesNothing(t *testing.T) {
	store, w, gw, svc := setup(t, 10000)

	_, err := svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 15000})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	assert.Equal(t, int64(10000), balanceOf(t, store, w.ID))

	_, total, err := store.ListTransactions(context.Background(), w.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "only the opening deposit")
	gw.AssertNotCalled(t, "CreatePayout", mock.Anything, mock.Anything)
}

func TestWithdraw_ReservesThenPaysOut(t *testing.T) {
	store, w, gw, svc := setup(t, 10000)
	gw.On("CreatePayout", mock.Anything, mock.MatchedBy(func(req payment.PayoutRequest) bool {
		return req.WalletID == w.ID && req.Amount == 4000 && req.Currency == "usd" && req.TransactionID != ""
	})).Run(func(args mock.Arguments) {
		// the reservation is committed before the processor is called
		assert.Equal(t, int64(6000), balanceOf(t, store, w.ID))
	}).Return(&payment.PayoutResult{Reference: "po_1", Status: "pending"}, nil).Once()

	res, err := svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 4000})
	require.NoError(t, err)
	assert.Equal(t, "po_1", res.Reference)
	assert.Equal(t, int64(6000), res.Wallet.Balance)

	stored, err := store.GetTransaction(context.Background(), res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "po_1", stored.Reference())
	assert.Equal(t, int64(6000), balanceOf(t, store, w.ID))
	gw.AssertExpectations(t)
}

func TestWithdraw_CompensatesWhenProcessorUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unavailable", apperrors.ErrUpstreamUnavailable},
		{"rejected", apperrors.ErrProcessorRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, w, gw, svc := setup(t, 10000)
			var txID string
			gw.On("CreatePayout", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
				txID = args.Get(1).(payment.PayoutRequest).TransactionID
			}).Return(nil, tt.err).Once()

			_, err := svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 4000})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, int64(10000), balanceOf(t, store, w.ID))

			stored, err := store.GetTransaction(context.Background(), txID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, stored.Status)
		})
	}
}

func TestWithdraw_CompensationRunsAfterCallerCancels(t *testing.T) {
	store, w, gw, svc := setup(t, 10000)
	ctx, cancel := context.WithCancel(context.Background())
	gw.On("CreatePayout", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil, apperrors.ErrUpstreamUnavailable).Once()

	_, err := svc.Withdraw(ctx, Request{WalletID: w.ID, Amount: 4000})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Equal(t, int64(10000), balanceOf(t, store, w.ID))
}

func TestWithdraw_CompensationIsNoOpWhenCallbackWon(t *testing.T) {
	store, w, gw, svc := setup(t, 10000)
	gw.On("CreatePayout", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(1).(payment.PayoutRequest)
		_, err := store.TransitionTransaction(context.Background(), repositories.TransitionRequest{
			Reference: "po_fast", TransactionID: req.TransactionID, Kind: models.KindWithdrawal, Target: models.StatusFailed,
		})
		require.NoError(t, err)
	}).Return(nil, apperrors.ErrUpstreamUnavailable).Once()

	_, err := svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 4000})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Equal(t, int64(10000), balanceOf(t, store, w.ID), "reservation released exactly once")
}

func TestWithdraw_ConcurrentRequestsNeverOverdraw(t *testing.T) {
	store, w, gw, svc := setup(t, 10000)
	gw.On("CreatePayout", mock.Anything, mock.Anything).Return(&payment.PayoutResult{Reference: "po_x"}, nil).Maybe()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 6000})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(4000), balanceOf(t, store, w.ID))
}

func TestWithdraw_ValidatesAmount(t *testing.T) {
	_, w, _, svc := setup(t, 100)

	_, err := svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
	_, err = svc.Withdraw(context.Background(), Request{WalletID: w.ID, Amount: -5})
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
}

func TestWithdraw_EnforcesLimit(t *testing.T) {
	store := repositories.NewMemoryStore()
	svc := NewService(store, &mockGateway{}, nil, Config{MaxAmount: 500}, nil, nil)

	_, err := svc.Withdraw(context.Background(), Request{WalletID: "w", Amount: 501})
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
}

func TestWithdraw_UnknownWallet(t *testing.T) {
	_, _, _, svc := setup(t, 100)

	_, err := svc.Withdraw(context.Background(), Request{WalletID: "missing", Amount: 10})
	assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)
}

func TestNewService_PanicsWithoutDependencies(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, &mockGateway{}, nil, Config{}, nil, nil) })
	assert.Panics(t, func() { NewService(repositories.NewMemoryStore(), nil, nil, Config{}, nil, nil) })
}

// lostReplyStore commits reservations but reports the first N as failed, as
// a dropped connection after COMMIT would.
type lostReplyStore struct {
	*repositories.MemoryStore
	mu    sync.Mutex
	lost  int
	phony bool
}

func (s *lostReplyStore) ReserveWithdrawal(ctx context.Context, tx *models.Transaction, expectedVersion int64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phony {
		return nil, apperrors.ErrDuplicateReference
	}
	w, err := s.MemoryStore.ReserveWithdrawal(ctx, tx, expectedVersion)
	if err == nil && s.lost > 0 {
		s.lost--
		return nil, apperrors.ErrStoreUnavailable
	}
	return w, err
}

func newLostReplyService(t *testing.T, store *lostReplyStore, gw *mockGateway) Service {
	t.Helper()
	return NewService(store, gw, nil, Config{
		StoreTimeout: time.Second,
		Retry:        retry.Policy{Attempts: 4, Base: time.Microsecond, Max: time.Millisecond},
	}, zap.NewNop(), metrics.Noop{})
}

func TestWithdraw_RecoversReservationWhoseReplyWasLost(t *testing.T) {
	mem, w, gw, _ := setup(t, 10000)
	store := &lostReplyStore{MemoryStore: mem, lost: 1}
	gw.On("CreatePayout", mock.Anything, mock.MatchedBy(func(req payment.PayoutRequest) bool {
		return req.WalletID == w.ID && req.Amount == 6000
	})).Return(&payment.PayoutResult{Reference: "po_lost", Status: "pending"}, nil).Once()

	res, err := newLostReplyService(t, store, gw).Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 6000})
	require.NoError(t, err)
	assert.Equal(t, "po_lost", res.Reference)
	assert.Equal(t, int64(4000), res.Wallet.Balance)
	assert.Equal(t, int64(4000), balanceOf(t, mem, w.ID))

	_, total, err := mem.ListTransactions(context.Background(), w.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "one reservation despite the retry")
	gw.AssertExpectations(t)
}

func TestWithdraw_UnconfirmedDuplicateIsNotSuccess(t *testing.T) {
	mem, w, gw, _ := setup(t, 10000)
	store := &lostReplyStore{MemoryStore: mem, phony: true}

	_, err := newLostReplyService(t, store, gw).Withdraw(context.Background(), Request{WalletID: w.ID, Amount: 500})
	require.Error(t, err)
	assert.False(t, apperrors.IsExpectedDuplicate(err))
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.Equal(t, int64(10000), balanceOf(t, mem, w.ID))
	gw.AssertNotCalled(t, "CreatePayout", mock.Anything, mock.Anything)
}
