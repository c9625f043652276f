package custody

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/chain"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustodyStore is the slice of the database layer the custodian needs.
type CustodyStore interface {
	NextAddressIndex(ctx context.Context) (int64, error)
	GetPaymentAddress(ctx context.Context, address string) (store.PaymentAddress, error)
	ListUncollectedAddresses(ctx context.Context) ([]store.PaymentAddress, error)
	ClaimAddress(ctx context.Context, address string) (bool, error)
	ReleaseAddress(ctx context.Context, address string) error
	RecordCollectionTransaction(ctx context.Context, arg store.RecordCollectionTransactionParams) (store.CollectionTransaction, error)
	GetAddressStats(ctx context.Context) (store.AddressStats, error)
}

// ChainClient is the slice of the node client the custodian needs.
type ChainClient interface {
	Balance(ctx context.Context, token, address string) (*big.Int, error)
	EstimateFee(ctx context.Context) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, address string) (uint64, error)
	SubmitSigned(ctx context.Context, tx *types.Transaction) (string, error)
}

// Custodian derives per-payment deposit addresses from the master key and
// sweeps their balances to the treasury.
type Custodian struct {
	store    CustodyStore
	chain    ChainClient
	keystore Keystore
	master   []byte
	treasury common.Address
	logger   *logging.Logger
}

func NewCustodian(masterKeyHex, treasuryAddress string, st CustodyStore, ks Keystore, ch ChainClient, logger *logging.Logger) (*Custodian, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(masterKeyHex, "0x"))
	if err != nil {
		return nil, ErrInvalidMasterKey
	}
	return &Custodian{
		store:    st,
		chain:    ch,
		keystore: ks,
		master:   crypto.FromECDSA(priv),
		treasury: common.HexToAddress(treasuryAddress),
		logger:   logger,
	}, nil
}

// NewDepositAddress allocates a durable derivation index, derives the child
// key and returns the sealed address record for the caller to persist in the
// same transaction as its payment. Indexes come from a database sequence, so
// no index is ever issued twice even across restarts or concurrent instances;
// a record the caller discards only leaves a gap in the sequence.
func (c *Custodian) NewDepositAddress(ctx context.Context, paymentID uuid.UUID) (store.CreatePaymentAddressParams, error) {
	index, err := c.store.NextAddressIndex(ctx)
	if err != nil {
		return store.CreatePaymentAddressParams{}, err
	}

	child, err := c.childKey(index)
	if err != nil {
		return store.CreatePaymentAddressParams{}, err
	}
	address := crypto.PubkeyToAddress(child.PublicKey).Hex()

	encrypted, err := c.keystore.Encrypt(child)
	if err != nil {
		return store.CreatePaymentAddressParams{}, err
	}

	c.logger.WithField("address", address).
		WithField("address_index", index).
		Debug("derived deposit address")
	return store.CreatePaymentAddressParams{
		ID:                  uuid.New(),
		PaymentID:           paymentID,
		AddressIndex:        index,
		Address:             address,
		PrivateKeyEncrypted: encrypted,
	}, nil
}

// childKey derives the key for an index as keccak256(master || index). Every
// index yields a distinct, deterministic key recoverable from the master.
func (c *Custodian) childKey(index int64) (*ecdsa.PrivateKey, error) {
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], uint64(index))
	seed := crypto.Keccak256(c.master, indexBytes[:])
	return crypto.ToECDSA(seed)
}

type SweepResult struct {
	FromAddress string
	Amount      *big.Int
	TxHash      string
}

// Sweep claims the address, then moves its full balance minus the transfer
// fee to the treasury. Claiming before submission guarantees that concurrent
// sweep passes over the same address submit at most one transaction; a failed
// submission releases the claim so a later pass can retry.
func (c *Custodian) Sweep(ctx context.Context, addr store.PaymentAddress) (SweepResult, error) {
	balance, err := c.chain.Balance(ctx, "", addr.Address)
	if err != nil {
		return SweepResult{}, err
	}

	fee, err := c.chain.EstimateFee(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if balance.Cmp(fee) <= 0 {
		return SweepResult{}, ErrBalanceBelowFee
	}
	amount := new(big.Int).Sub(balance, fee)

	// Served from the same short-lived cache the fee estimate read.
	gasPrice, err := c.chain.GasPrice(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	claimed, err := c.store.ClaimAddress(ctx, addr.Address)
	if err != nil {
		return SweepResult{}, err
	}
	if !claimed {
		return SweepResult{}, ErrAddressClaimed
	}

	hash, err := c.submitSweep(ctx, addr, amount, gasPrice)
	if err != nil {
		if releaseErr := c.store.ReleaseAddress(ctx, addr.Address); releaseErr != nil {
			c.logger.WithError(releaseErr).
				WithField("address", addr.Address).
				Error("failed to release sweep claim")
		}
		return SweepResult{}, err
	}

	if _, err := c.store.RecordCollectionTransaction(ctx, store.RecordCollectionTransactionParams{
		ID:          uuid.New(),
		FromAddress: addr.Address,
		ToAddress:   c.treasury.Hex(),
		Amount:      decimal.NewFromBigInt(amount, 0),
		TxHash:      hash,
	}); err != nil {
		c.logger.WithError(err).
			WithField("tx_hash", hash).
			Error("sweep submitted but not recorded")
	}

	c.logger.WithField("address", addr.Address).
		WithField("amount_wei", amount.String()).
		WithField("tx_hash", hash).
		Info("address swept to treasury")

	return SweepResult{FromAddress: addr.Address, Amount: amount, TxHash: hash}, nil
}

func (c *Custodian) submitSweep(ctx context.Context, addr store.PaymentAddress, amount, gasPrice *big.Int) (string, error) {
	nonce, err := c.chain.PendingNonce(ctx, addr.Address)
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, c.treasury, amount, chain.TransferGasLimit, gasPrice, nil)
	signed, err := c.keystore.SignTx(addr.PrivateKeyEncrypted, tx)
	if err != nil {
		return "", err
	}
	return c.chain.SubmitSigned(ctx, signed)
}

// SweepEligible sweeps every uncollected address whose balance strictly
// exceeds the threshold. Addresses that fail are logged and skipped; one bad
// address must not stall the rest of the pass.
func (c *Custodian) SweepEligible(ctx context.Context, threshold decimal.Decimal) ([]SweepResult, error) {
	addresses, err := c.store.ListUncollectedAddresses(ctx)
	if err != nil {
		return nil, err
	}

	thresholdWei := threshold.Shift(18).Truncate(0).BigInt()
	var results []SweepResult
	for _, addr := range addresses {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		balance, err := c.chain.Balance(ctx, "", addr.Address)
		if err != nil {
			c.logger.WithError(err).WithField("address", addr.Address).Warn("skipping address, balance check failed")
			continue
		}
		if balance.Cmp(thresholdWei) <= 0 {
			continue
		}
		result, err := c.Sweep(ctx, addr)
		if err != nil {
			switch err {
			case ErrAddressClaimed, ErrBalanceBelowFee:
				c.logger.WithField("address", addr.Address).WithError(err).Debug("address not swept")
			default:
				c.logger.WithError(err).WithField("address", addr.Address).Error("sweep failed")
			}
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// TreasuryAddress returns the configured sweep destination.
func (c *Custodian) TreasuryAddress() string {
	return c.treasury.Hex()
}

type WalletStats struct {
	TotalAddresses     int64  `json:"total_addresses"`
	UncollectedCount   int64  `json:"uncollected_count"`
	CollectedCount     int64  `json:"collected_count"`
	HighestIndexIssued int64  `json:"highest_index_issued"`
	TreasuryAddress    string `json:"treasury_address"`
	TreasuryBalanceWei string `json:"treasury_balance_wei"`
}

func (c *Custodian) Stats(ctx context.Context) (WalletStats, error) {
	st, err := c.store.GetAddressStats(ctx)
	if err != nil {
		return WalletStats{}, err
	}
	balance, err := c.chain.Balance(ctx, "", c.treasury.Hex())
	if err != nil {
		return WalletStats{}, err
	}
	return WalletStats{
		TotalAddresses:     st.TotalAddresses,
		UncollectedCount:   st.UncollectedCount,
		CollectedCount:     st.CollectedCount,
		HighestIndexIssued: st.HighestIndexIssued,
		TreasuryAddress:    c.treasury.Hex(),
		TreasuryBalanceWei: balance.String(),
	}, nil
}
