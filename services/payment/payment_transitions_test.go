package payment

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transitionStore holds a single payment row and mirrors the conditional
// update the payments table applies: terminal rows are never touched,
// confirmations never decrease, and an update that changes nothing affects
// zero rows and reports sql.ErrNoRows.
type transitionStore struct {
	mu  sync.Mutex
	row store.Payment
}

func (f *transitionStore) AdvancePaymentStatus(_ context.Context, arg store.AdvancePaymentStatusParams) (store.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.row
	if p.ID != arg.ID {
		return store.Payment{}, sql.ErrNoRows
	}
	switch p.Status {
	case "completed", "expired", "failed":
		return store.Payment{}, sql.ErrNoRows
	}

	next := p.Confirmations
	if arg.Confirmations.Valid && arg.Confirmations.Int32 > next {
		next = arg.Confirmations.Int32
	}
	if p.Status == arg.Status && next == p.Confirmations {
		return store.Payment{}, sql.ErrNoRows
	}

	p.Status = arg.Status
	p.Confirmations = next
	if arg.TransactionHash.Valid {
		p.TransactionHash = arg.TransactionHash
	}
	f.row = p
	return p, nil
}

func (f *transitionStore) current() store.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row
}

func (f *transitionStore) CreatePaymentWithAddress(_ context.Context, _ store.CreatePaymentParams, _ store.CreatePaymentAddressParams) (store.Payment, error) {
	return store.Payment{}, nil
}

func (f *transitionStore) GetPayment(_ context.Context, _ uuid.UUID) (store.Payment, error) {
	return store.Payment{}, sql.ErrNoRows
}

func (f *transitionStore) GetPaymentForMerchant(_ context.Context, _, _ uuid.UUID) (store.Payment, error) {
	return store.Payment{}, sql.ErrNoRows
}

func (f *transitionStore) ListPayments(_ context.Context, _ store.ListPaymentsParams) ([]store.Payment, int64, error) {
	return nil, 0, nil
}

func (f *transitionStore) MarkExpiredPayments(_ context.Context) ([]store.Payment, error) {
	return nil, nil
}

func newTransitionService(row store.Payment) (*Service, *transitionStore, *fakeNotifier) {
	st := &transitionStore{row: row}
	notifier := &fakeNotifier{}
	svc := NewPaymentService(st, &fakeDeriver{}, notifier, 1, logging.NewLogger())
	return svc, st, notifier
}

func TestUpdateStatusIgnoresStaleConfirmations(t *testing.T) {
	id := uuid.New()
	svc, st, notifier := newTransitionService(store.Payment{ID: id, Status: "confirmed", Confirmations: 10})
	ctx := context.Background()

	// A watcher that read the chain before the batch pass reports fewer
	// confirmations. The write must not land and must not notify.
	_, changed, err := svc.UpdateStatus(ctx, id, StatusConfirmed, "", 5)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, notifier.notified)
	assert.Equal(t, int32(10), st.current().Confirmations)

	// Equal status and equal confirmations is a no-op as well.
	_, changed, err = svc.UpdateStatus(ctx, id, StatusConfirmed, "", 10)
	require.NoError(t, err)
	assert.False(t, changed)

	// Moving forward lands and notifies once.
	_, changed, err = svc.UpdateStatus(ctx, id, StatusConfirmed, "", 12)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int32(12), st.current().Confirmations)
	assert.Len(t, notifier.notified, 1)
}

func TestUpdateStatusNeverTouchesTerminalPayments(t *testing.T) {
	id := uuid.New()
	ctx := context.Background()

	for _, terminal := range []string{"completed", "expired", "failed"} {
		svc, st, notifier := newTransitionService(store.Payment{ID: id, Status: terminal, Confirmations: 12})

		for _, attempt := range []PaymentStatus{StatusPending, StatusConfirmed, StatusCompleted, StatusFailed} {
			_, changed, err := svc.UpdateStatus(ctx, id, attempt, "0xdead", 99)
			require.NoError(t, err)
			assert.False(t, changed, "%s row must not accept %s", terminal, attempt)
		}
		assert.Equal(t, terminal, st.current().Status)
		assert.Equal(t, int32(12), st.current().Confirmations)
		assert.Empty(t, notifier.notified)
	}
}

func TestUpdateStatusAdvancesStatusWithoutConfirmations(t *testing.T) {
	id := uuid.New()
	svc, st, _ := newTransitionService(store.Payment{ID: id, Status: "pending", Confirmations: 3})

	// A negative confirmation count means "unknown": the status still moves
	// forward and the stored count is left alone.
	_, changed, err := svc.UpdateStatus(context.Background(), id, StatusConfirmed, "0xabc", -1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "confirmed", st.current().Status)
	assert.Equal(t, int32(3), st.current().Confirmations)
	assert.Equal(t, "0xabc", st.current().TransactionHash.String)
}

func TestConcurrentUpdatesConvergeOnHighestConfirmation(t *testing.T) {
	id := uuid.New()
	svc, st, _ := newTransitionService(store.Payment{ID: id, Status: "pending"})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, confs := range []int32{2, 7, 4, 7, 1, 6} {
		wg.Add(1)
		go func(confs int32) {
			defer wg.Done()
			_, _, err := svc.UpdateStatus(ctx, id, StatusConfirmed, "", confs)
			assert.NoError(t, err)
		}(confs)
	}
	wg.Wait()

	assert.Equal(t, "confirmed", st.current().Status)
	assert.Equal(t, int32(7), st.current().Confirmations)
}
