package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/utils"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gocache "github.com/patrickmn/go-cache"
)

// TransferGasLimit is the gas cost of a plain value transfer.
const TransferGasLimit uint64 = 21000

// TransferEventTopic is keccak256("Transfer(address,address,uint256)"), the
// first topic of every ERC-20 transfer log.
var TransferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

const gasPriceCacheKey = "gas_price"

// Client wraps the node connections. The HTTP endpoint serves queries and
// submissions; the websocket endpoint, when configured, serves subscriptions.
type Client struct {
	eth           *ethclient.Client
	ws            *ethclient.Client
	chainID       *big.Int
	requiredConfs uint64
	cache         *gocache.Cache
	logger        *logging.Logger
}

// Dial connects to the configured node and verifies that it serves the chain
// the gateway expects. A mismatched node would derive valid-looking but
// unusable payment URIs, so this is a hard failure.
func Dial(ctx context.Context, config *utils.Config, logger *logging.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, config.EthereumRPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if chainID.Uint64() != config.EthereumChainID {
		return nil, fmt.Errorf("%w: node reports %d, configured %d",
			ErrChainMismatch, chainID.Uint64(), config.EthereumChainID)
	}

	var ws *ethclient.Client
	if config.EthereumWSURL != "" {
		ws, err = ethclient.DialContext(ctx, config.EthereumWSURL)
		if err != nil {
			logger.WithError(err).Warn("websocket endpoint unreachable, falling back to polling")
			ws = nil
		}
	}

	required := config.RequiredConfirmations
	if required == 0 {
		required = defaultRequiredConfirmations(chainID.Uint64())
	}

	return &Client{
		eth:           eth,
		ws:            ws,
		chainID:       chainID,
		requiredConfs: required,
		cache:         gocache.New(5*time.Second, time.Minute),
		logger:        logger,
	}, nil
}

func defaultRequiredConfirmations(chainID uint64) uint64 {
	switch chainID {
	case 1:
		return 12
	case 5:
		return 6
	default:
		return 6
	}
}

func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

func (c *Client) RequiredConfirmations() uint64 {
	return c.requiredConfs
}

func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	block, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return block, nil
}

// Balance returns the balance of address in the given token's base unit.
// An empty token address means the chain's native asset.
func (c *Client) Balance(ctx context.Context, token, address string) (*big.Int, error) {
	if token == "" {
		balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
		}
		return balance, nil
	}
	return c.tokenBalance(ctx, token, address)
}

func (c *Client) tokenBalance(ctx context.Context, token, address string) (*big.Int, error) {
	// balanceOf(address) selector followed by the holder padded to 32 bytes.
	data := make([]byte, 0, 36)
	data = append(data, 0x70, 0xa0, 0x82, 0x31)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	contract := common.HexToAddress(token)
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return new(big.Int).SetBytes(result), nil
}

// TransactionReceipt looks up a mined transaction's receipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return receipt, nil
}

// TransactionByHash fetches a transaction and whether it is still pending.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*types.Transaction, bool, error) {
	tx, pending, err := c.eth.TransactionByHash(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, false, ErrTxNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return tx, pending, nil
}

// Confirmations counts how many blocks sit on top of the transaction's block.
// A reorg can leave the current head behind the receipt's block; the count is
// floored at zero rather than going negative.
func (c *Client) Confirmations(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	current, err := c.CurrentBlock(ctx)
	if err != nil {
		return 0, err
	}
	txBlock := receipt.BlockNumber.Uint64()
	if current < txBlock {
		return 0, nil
	}
	return current - txBlock, nil
}

// GasPrice returns the node's suggested gas price, cached briefly so sweep
// passes over many addresses do not hammer the node.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if cached, ok := c.cache.Get(gasPriceCacheKey); ok {
		return new(big.Int).Set(cached.(*big.Int)), nil
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	c.cache.Set(gasPriceCacheKey, price, gocache.DefaultExpiration)
	return new(big.Int).Set(price), nil
}

// EstimateFee returns the cost of a plain value transfer at the current gas
// price.
func (c *Client) EstimateFee(ctx context.Context) (*big.Int, error) {
	price, err := c.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(TransferGasLimit)), nil
}

func (c *Client) PendingNonce(ctx context.Context, address string) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return nonce, nil
}

// SubmitSigned broadcasts an already-signed transaction and returns its hash.
func (c *Client) SubmitSigned(ctx context.Context, tx *types.Transaction) (string, error) {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return tx.Hash().Hex(), nil
}

// SubscribeLogs opens a websocket log subscription. Callers must handle
// ErrSubscriptionsUnavailable by polling instead.
func (c *Client) SubscribeLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, ErrSubscriptionsUnavailable
	}
	sub, err := c.ws.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return sub, nil
}

// FilterLogs queries historic logs over the HTTP endpoint.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return logs, nil
}

type NetworkStatus struct {
	ChainID               uint64 `json:"chain_id"`
	BlockNumber           uint64 `json:"block_number"`
	GasPrice              string `json:"gas_price"`
	RequiredConfirmations uint64 `json:"required_confirmations"`
	SubscriptionsEnabled  bool   `json:"subscriptions_enabled"`
}

func (c *Client) NetworkStatus(ctx context.Context) (NetworkStatus, error) {
	block, err := c.CurrentBlock(ctx)
	if err != nil {
		return NetworkStatus{}, err
	}
	price, err := c.GasPrice(ctx)
	if err != nil {
		return NetworkStatus{}, err
	}
	return NetworkStatus{
		ChainID:               c.ChainID(),
		BlockNumber:           block,
		GasPrice:              price.String(),
		RequiredConfirmations: c.requiredConfs,
		SubscriptionsEnabled:  c.ws != nil,
	}, nil
}
