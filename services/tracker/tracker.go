package tracker

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/chain"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/services/payment"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultPollInterval = 5 * time.Second
	maxPollAttempts     = 720
)

// ChainReader is the slice of the node client the tracker needs.
type ChainReader interface {
	ChainID() uint64
	CurrentBlock(ctx context.Context) (uint64, error)
	TransactionByHash(ctx context.Context, hash string) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error)
	Confirmations(ctx context.Context, receipt *types.Receipt) (uint64, error)
	RequiredConfirmations() uint64
	SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Ledger records observed payment progress.
type Ledger interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status payment.PaymentStatus, txHash string, confirmations int32) (store.Payment, bool, error)
}

// TrackerStore is the slice of the database layer the tracker needs.
type TrackerStore interface {
	GetPayment(ctx context.Context, id uuid.UUID) (store.Payment, error)
	ListWatchablePayments(ctx context.Context) ([]store.Payment, error)
	ListConfirmedPayments(ctx context.Context) ([]store.Payment, error)
	RecordChainTransaction(ctx context.Context, arg store.RecordChainTransactionParams) error
}

// Runner launches supervised background goroutines.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Tracker watches deposit addresses for incoming transactions and drives
// payments through confirmed and completed as blocks accumulate.
type Tracker struct {
	chain        ChainReader
	ledger       Ledger
	store        TrackerStore
	runner       Runner
	pollInterval time.Duration
	logger       *logging.Logger
}

func NewTracker(ch ChainReader, ledger Ledger, st TrackerStore, runner Runner, pollIntervalSeconds int, logger *logging.Logger) *Tracker {
	interval := defaultPollInterval
	if pollIntervalSeconds > 0 {
		interval = time.Duration(pollIntervalSeconds) * time.Second
	}
	return &Tracker{
		chain:        ch,
		ledger:       ledger,
		store:        st,
		runner:       runner,
		pollInterval: interval,
		logger:       logger,
	}
}

// Watch starts a background watcher for a payment's deposit address.
func (t *Tracker) Watch(p store.Payment) {
	t.runner.Go("watch-payment-"+p.ID.String(), func(ctx context.Context) error {
		t.watch(ctx, p)
		return nil
	})
}

// ResumeWatchers restarts watchers for every live payment. Called once at
// startup so in-flight payments survive a process restart.
func (t *Tracker) ResumeWatchers(ctx context.Context) error {
	payments, err := t.store.ListWatchablePayments(ctx)
	if err != nil {
		return err
	}
	for _, p := range payments {
		t.Watch(p)
	}
	t.logger.WithField("count", len(payments)).Info("resumed payment watchers")
	return nil
}

// watch subscribes to deposit logs when a websocket endpoint is available and
// falls back to bounded polling otherwise.
func (t *Tracker) watch(ctx context.Context, p store.Payment) {
	query := t.depositFilter(p)

	logs := make(chan types.Log, 16)
	sub, err := t.chain.SubscribeLogs(ctx, query, logs)
	if errors.Is(err, chain.ErrSubscriptionsUnavailable) {
		t.watchPolling(ctx, p, query)
		return
	}
	if err != nil {
		t.logger.WithError(err).
			WithField("payment_id", p.ID).
			Warn("log subscription failed, falling back to polling")
		t.watchPolling(ctx, p, query)
		return
	}
	defer sub.Unsubscribe()

	deadline := time.NewTimer(t.watchWindow(p))
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			t.logger.WithField("payment_id", p.ID).Info("watch window elapsed")
			return
		case err := <-sub.Err():
			t.logger.WithError(err).
				WithField("payment_id", p.ID).
				Warn("subscription dropped, falling back to polling")
			t.watchPolling(ctx, p, query)
			return
		case log := <-logs:
			if t.processLog(ctx, p, log) {
				return
			}
		}
	}
}

func (t *Tracker) watchPolling(ctx context.Context, p store.Payment, query ethereum.FilterQuery) {
	lastChecked, err := t.chain.CurrentBlock(ctx)
	if err != nil {
		t.logger.WithError(err).WithField("payment_id", p.ID).Error("cannot start polling watcher")
		return
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for attempts := 0; attempts < maxPollAttempts; attempts++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		latest, err := t.chain.CurrentBlock(ctx)
		if err != nil {
			t.logger.WithError(err).Warn("cannot fetch latest block")
			continue
		}
		if latest <= lastChecked {
			continue
		}

		q := query
		q.FromBlock = new(big.Int).SetUint64(lastChecked + 1)
		q.ToBlock = new(big.Int).SetUint64(latest)
		found, err := t.chain.FilterLogs(ctx, q)
		if err != nil {
			t.logger.WithError(err).Warn("cannot fetch logs")
			continue
		}
		for _, log := range found {
			if t.processLog(ctx, p, log) {
				return
			}
		}
		lastChecked = latest

		current, err := t.store.GetPayment(ctx, p.ID)
		if err == nil && payment.PaymentStatus(current.Status).IsTerminal() {
			return
		}
	}
	t.logger.WithField("payment_id", p.ID).Info("polling watcher exhausted attempts")
}

// depositFilter builds the log query that detects a deposit. Token payments
// watch the contract's Transfer events addressed to the deposit address;
// native payments watch logs touching the address itself.
func (t *Tracker) depositFilter(p store.Payment) ethereum.FilterQuery {
	currency := payment.Currency(p.Currency)
	deposit := common.HexToAddress(p.PaymentAddress)
	if currency.IsNative() {
		return ethereum.FilterQuery{Addresses: []common.Address{deposit}}
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(currency.ContractAddress())},
		Topics: [][]common.Hash{
			{chain.TransferEventTopic},
			nil,
			{common.BytesToHash(common.LeftPadBytes(deposit.Bytes(), 32))},
		},
	}
}

// watchWindow bounds a subscription watcher to the payment's lifetime.
func (t *Tracker) watchWindow(p store.Payment) time.Duration {
	if p.ExpiresAt.Valid {
		if window := time.Until(p.ExpiresAt.Time); window > 0 {
			return window
		}
	}
	return time.Hour
}

// processLog handles one detected log and reports whether the payment has
// reached a terminal status.
func (t *Tracker) processLog(ctx context.Context, p store.Payment, log types.Log) bool {
	hash := log.TxHash.Hex()
	terminal, err := t.ProcessTransaction(ctx, p, hash)
	if err != nil {
		t.logger.WithError(err).
			WithField("payment_id", p.ID).
			WithField("tx_hash", hash).
			Error("failed to process detected transaction")
		return false
	}
	return terminal
}

// ProcessTransaction inspects a candidate deposit transaction and advances
// the payment accordingly. A reverted transaction fails the payment; a
// successful one moves it to confirmed, or straight to completed once enough
// blocks have accumulated. Deposits below the requested amount are recorded
// but do not advance the payment.
func (t *Tracker) ProcessTransaction(ctx context.Context, p store.Payment, txHash string) (bool, error) {
	receipt, err := t.chain.TransactionReceipt(ctx, txHash)
	if errors.Is(err, chain.ErrTxNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	value, from, to, err := t.transferDetails(ctx, p, txHash)
	if err != nil {
		return false, err
	}
	t.recordTransaction(ctx, p, receipt, txHash, value, from, to)

	if receipt.Status != types.ReceiptStatusSuccessful {
		_, _, err := t.ledger.UpdateStatus(ctx, p.ID, payment.StatusFailed, txHash, -1)
		return true, err
	}

	expected := payment.Currency(p.Currency).SmallestUnit(p.Amount)
	if value.Cmp(expected) < 0 {
		t.logger.WithField("payment_id", p.ID).
			WithField("received", value.String()).
			WithField("expected", expected.String()).
			Warn("deposit below requested amount")
		return false, nil
	}

	confirmations, err := t.chain.Confirmations(ctx, receipt)
	if err != nil {
		return false, err
	}

	status := payment.StatusConfirmed
	if confirmations >= t.chain.RequiredConfirmations() {
		status = payment.StatusCompleted
	}
	_, _, err = t.ledger.UpdateStatus(ctx, p.ID, status, txHash, int32(confirmations))
	return status == payment.StatusCompleted, err
}

// transferDetails extracts the deposited value and endpoints. Native deposits
// read the transaction itself; token deposits decode the Transfer log data.
func (t *Tracker) transferDetails(ctx context.Context, p store.Payment, txHash string) (*big.Int, string, string, error) {
	tx, _, err := t.chain.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, "", "", err
	}

	from := ""
	if sender, err := types.Sender(types.LatestSignerForChainID(new(big.Int).SetUint64(t.chain.ChainID())), tx); err == nil {
		from = sender.Hex()
	}

	currency := payment.Currency(p.Currency)
	if currency.IsNative() {
		to := ""
		if tx.To() != nil {
			to = tx.To().Hex()
		}
		return tx.Value(), from, to, nil
	}

	receipt, err := t.chain.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, "", "", err
	}
	deposit := common.HexToAddress(p.PaymentAddress)
	contract := common.HexToAddress(currency.ContractAddress())
	for _, log := range receipt.Logs {
		if log.Address != contract || len(log.Topics) != 3 || log.Topics[0] != chain.TransferEventTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != deposit {
			continue
		}
		return new(big.Int).SetBytes(log.Data), common.BytesToAddress(log.Topics[1].Bytes()).Hex(), deposit.Hex(), nil
	}
	return big.NewInt(0), from, deposit.Hex(), nil
}

func (t *Tracker) recordTransaction(ctx context.Context, p store.Payment, receipt *types.Receipt, txHash string, value *big.Int, from, to string) {
	status := "success"
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = "failed"
	}
	arg := store.RecordChainTransactionParams{
		ID:          uuid.New(),
		PaymentID:   p.ID,
		TxHash:      txHash,
		FromAddress: from,
		ToAddress:   to,
		Amount:      decimal.NewFromBigInt(value, 0),
		GasUsed:     int64(receipt.GasUsed),
		Status:      status,
	}
	if receipt.EffectiveGasPrice != nil {
		arg.GasPrice = decimal.NewFromBigInt(receipt.EffectiveGasPrice, 0)
	}
	if receipt.BlockNumber != nil {
		arg.BlockNumber = receipt.BlockNumber.Int64()
	}
	if err := t.store.RecordChainTransaction(ctx, arg); err != nil {
		t.logger.WithError(err).
			WithField("tx_hash", txHash).
			Error("cannot record chain transaction")
	}
}

// UpdateConfirmations advances every confirmed payment whose transaction has
// accumulated more blocks. Run as a recurring task, it is the safety net for
// payments whose per-order watcher has stopped.
func (t *Tracker) UpdateConfirmations(ctx context.Context) (int, error) {
	payments, err := t.store.ListConfirmedPayments(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, p := range payments {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		if !p.TransactionHash.Valid {
			continue
		}
		receipt, err := t.chain.TransactionReceipt(ctx, p.TransactionHash.String)
		if err != nil {
			t.logger.WithError(err).
				WithField("payment_id", p.ID).
				Warn("cannot fetch receipt for confirmed payment")
			continue
		}
		confirmations, err := t.chain.Confirmations(ctx, receipt)
		if err != nil {
			continue
		}

		status := payment.StatusConfirmed
		if confirmations >= t.chain.RequiredConfirmations() {
			status = payment.StatusCompleted
		}
		_, changed, err := t.ledger.UpdateStatus(ctx, p.ID, status, p.TransactionHash.String, int32(confirmations))
		if err != nil {
			t.logger.WithError(err).WithField("payment_id", p.ID).Error("cannot advance payment")
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}
