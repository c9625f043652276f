package tracker

import (
	"context"
	"database/sql"
	"math/big"
	"testing"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/chain"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/services/payment"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChainReader struct {
	currentBlock  uint64
	requiredConfs uint64
	receipts      map[string]*types.Receipt
	transactions  map[string]*types.Transaction
}

func newFakeChainReader() *fakeChainReader {
	return &fakeChainReader{
		requiredConfs: 12,
		receipts:      make(map[string]*types.Receipt),
		transactions:  make(map[string]*types.Transaction),
	}
}

func (f *fakeChainReader) ChainID() uint64 { return 1 }

func (f *fakeChainReader) CurrentBlock(_ context.Context) (uint64, error) {
	return f.currentBlock, nil
}

func (f *fakeChainReader) TransactionByHash(_ context.Context, hash string) (*types.Transaction, bool, error) {
	tx, ok := f.transactions[hash]
	if !ok {
		return nil, false, chain.ErrTxNotFound
	}
	return tx, false, nil
}

func (f *fakeChainReader) TransactionReceipt(_ context.Context, hash string) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return r, nil
}

func (f *fakeChainReader) Confirmations(_ context.Context, receipt *types.Receipt) (uint64, error) {
	txBlock := receipt.BlockNumber.Uint64()
	if f.currentBlock < txBlock {
		return 0, nil
	}
	return f.currentBlock - txBlock, nil
}

func (f *fakeChainReader) RequiredConfirmations() uint64 { return f.requiredConfs }

func (f *fakeChainReader) SubscribeLogs(_ context.Context, _ ethereum.FilterQuery, _ chan<- types.Log) (ethereum.Subscription, error) {
	return nil, chain.ErrSubscriptionsUnavailable
}

func (f *fakeChainReader) FilterLogs(_ context.Context, _ ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

type ledgerCall struct {
	id            uuid.UUID
	status        payment.PaymentStatus
	txHash        string
	confirmations int32
}

type fakeLedger struct {
	calls []ledgerCall
}

func (f *fakeLedger) UpdateStatus(_ context.Context, id uuid.UUID, status payment.PaymentStatus, txHash string, confirmations int32) (store.Payment, bool, error) {
	f.calls = append(f.calls, ledgerCall{id: id, status: status, txHash: txHash, confirmations: confirmations})
	return store.Payment{ID: id, Status: string(status)}, true, nil
}

type fakeTrackerStore struct {
	payments  map[uuid.UUID]store.Payment
	confirmed []store.Payment
	recorded  []store.RecordChainTransactionParams
}

func newFakeTrackerStore() *fakeTrackerStore {
	return &fakeTrackerStore{payments: make(map[uuid.UUID]store.Payment)}
}

func (f *fakeTrackerStore) GetPayment(_ context.Context, id uuid.UUID) (store.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return store.Payment{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeTrackerStore) ListWatchablePayments(_ context.Context) ([]store.Payment, error) {
	return nil, nil
}

func (f *fakeTrackerStore) ListConfirmedPayments(_ context.Context) ([]store.Payment, error) {
	return f.confirmed, nil
}

func (f *fakeTrackerStore) RecordChainTransaction(_ context.Context, arg store.RecordChainTransactionParams) error {
	f.recorded = append(f.recorded, arg)
	return nil
}

const depositAddress = "0x2222222222222222222222222222222222222222"

func nativePayment(amount string) store.Payment {
	return store.Payment{
		ID:             uuid.New(),
		MerchantID:     uuid.New(),
		OrderID:        "order-1",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "ETH",
		PaymentAddress: depositAddress,
		Status:         "pending",
	}
}

// seedDeposit installs a native transfer of the given wei value mined at
// txBlock.
func seedDeposit(ch *fakeChainReader, hash string, valueWei *big.Int, txBlock uint64, reverted bool) {
	to := common.HexToAddress(depositAddress)
	tx := types.NewTransaction(0, to, valueWei, 21000, big.NewInt(1), nil)
	ch.transactions[hash] = tx

	status := types.ReceiptStatusSuccessful
	if reverted {
		status = types.ReceiptStatusFailed
	}
	ch.receipts[hash] = &types.Receipt{
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(txBlock),
		GasUsed:     21000,
	}
}

func newTestTracker() (*Tracker, *fakeChainReader, *fakeLedger, *fakeTrackerStore) {
	ch := newFakeChainReader()
	ledger := &fakeLedger{}
	st := newFakeTrackerStore()
	trk := NewTracker(ch, ledger, st, nil, 5, logging.NewLogger())
	return trk, ch, ledger, st
}

func TestProcessTransactionCompletesAtRequiredConfirmations(t *testing.T) {
	trk, ch, ledger, st := newTestTracker()
	p := nativePayment("0.5")
	hash := "0xaaa1"

	seedDeposit(ch, hash, big.NewInt(500_000_000_000_000_000), 100, false)
	ch.currentBlock = 112 // exactly 12 confirmations

	terminal, err := trk.ProcessTransaction(context.Background(), p, hash)
	require.NoError(t, err)
	assert.True(t, terminal)

	require.Len(t, ledger.calls, 1)
	assert.Equal(t, payment.StatusCompleted, ledger.calls[0].status)
	assert.Equal(t, int32(12), ledger.calls[0].confirmations)
	assert.Equal(t, hash, ledger.calls[0].txHash)
	require.Len(t, st.recorded, 1)
	assert.Equal(t, "success", st.recorded[0].Status)
}

func TestProcessTransactionConfirmsBelowThreshold(t *testing.T) {
	trk, ch, ledger, _ := newTestTracker()
	p := nativePayment("0.5")
	hash := "0xaaa2"

	seedDeposit(ch, hash, big.NewInt(500_000_000_000_000_000), 100, false)
	ch.currentBlock = 111 // 11 confirmations, one short

	terminal, err := trk.ProcessTransaction(context.Background(), p, hash)
	require.NoError(t, err)
	assert.False(t, terminal)

	require.Len(t, ledger.calls, 1)
	assert.Equal(t, payment.StatusConfirmed, ledger.calls[0].status)
	assert.Equal(t, int32(11), ledger.calls[0].confirmations)
}

func TestProcessTransactionFailsRevertedDeposit(t *testing.T) {
	trk, ch, ledger, st := newTestTracker()
	p := nativePayment("0.5")
	hash := "0xaaa3"

	seedDeposit(ch, hash, big.NewInt(500_000_000_000_000_000), 100, true)
	ch.currentBlock = 120

	terminal, err := trk.ProcessTransaction(context.Background(), p, hash)
	require.NoError(t, err)
	assert.True(t, terminal)

	require.Len(t, ledger.calls, 1)
	assert.Equal(t, payment.StatusFailed, ledger.calls[0].status)
	require.Len(t, st.recorded, 1)
	assert.Equal(t, "failed", st.recorded[0].Status)
}

func TestProcessTransactionIgnoresUnderpayment(t *testing.T) {
	trk, ch, ledger, st := newTestTracker()
	p := nativePayment("0.5")
	hash := "0xaaa4"

	// Deposit of 0.4 ETH against a 0.5 ETH request.
	seedDeposit(ch, hash, big.NewInt(400_000_000_000_000_000), 100, false)
	ch.currentBlock = 120

	terminal, err := trk.ProcessTransaction(context.Background(), p, hash)
	require.NoError(t, err)
	assert.False(t, terminal)

	// The transaction is recorded for the audit trail but the payment does
	// not advance.
	assert.Empty(t, ledger.calls)
	assert.Len(t, st.recorded, 1)
}

func TestProcessTransactionSkipsUnminedTx(t *testing.T) {
	trk, _, ledger, _ := newTestTracker()
	p := nativePayment("0.5")

	terminal, err := trk.ProcessTransaction(context.Background(), p, "0xmissing")
	require.NoError(t, err)
	assert.False(t, terminal)
	assert.Empty(t, ledger.calls)
}

func TestUpdateConfirmationsAdvancesConfirmedPayments(t *testing.T) {
	trk, ch, ledger, st := newTestTracker()

	done := nativePayment("0.5")
	done.Status = "confirmed"
	done.TransactionHash = sql.NullString{String: "0xbbb1", Valid: true}
	waiting := nativePayment("0.5")
	waiting.Status = "confirmed"
	waiting.TransactionHash = sql.NullString{String: "0xbbb2", Valid: true}
	st.confirmed = []store.Payment{done, waiting}

	seedDeposit(ch, "0xbbb1", big.NewInt(500_000_000_000_000_000), 100, false)
	seedDeposit(ch, "0xbbb2", big.NewInt(500_000_000_000_000_000), 110, false)
	ch.currentBlock = 115 // 15 confs for the first, 5 for the second

	updated, err := trk.UpdateConfirmations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	require.Len(t, ledger.calls, 2)
	assert.Equal(t, payment.StatusCompleted, ledger.calls[0].status)
	assert.Equal(t, int32(15), ledger.calls[0].confirmations)
	assert.Equal(t, payment.StatusConfirmed, ledger.calls[1].status)
	assert.Equal(t, int32(5), ledger.calls[1].confirmations)
}

func TestDepositFilterShapes(t *testing.T) {
	trk, _, _, _ := newTestTracker()

	native := trk.depositFilter(nativePayment("1"))
	require.Len(t, native.Addresses, 1)
	assert.Equal(t, common.HexToAddress(depositAddress), native.Addresses[0])
	assert.Empty(t, native.Topics)

	token := nativePayment("100")
	token.Currency = "USDT"
	q := trk.depositFilter(token)
	require.Len(t, q.Addresses, 1)
	assert.Equal(t, common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), q.Addresses[0])
	require.Len(t, q.Topics, 3)
	assert.Equal(t, chain.TransferEventTopic, q.Topics[0][0])
	assert.Equal(t, common.BytesToHash(common.LeftPadBytes(common.HexToAddress(depositAddress).Bytes(), 32)), q.Topics[2][0])
}
