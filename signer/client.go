// Package signer sends cart transactions from a locally held private key
// through an Ethereum JSON-RPC node and waits for their receipts. It
// implements txcart.Signer and txcart.ConfirmationWaiter for headless use
// of the cart, where no browser wallet is available.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tranvictor/txcart"
	"github.com/tranvictor/txcart/internal/nonce"
)

const (
	DefaultGasBufferPercent = 0.20
	DefaultReceiptInterval  = 3 * time.Second
)

var (
	ErrEstimateGasFailed   = fmt.Errorf("couldn't estimate gas")
	ErrAcquireNonceFailed  = fmt.Errorf("couldn't acquire nonce")
	ErrGetGasSettingFailed = fmt.Errorf("couldn't get gas settings")
	ErrBroadcastFailed     = fmt.Errorf("couldn't broadcast transaction")
	ErrInvalidKey          = fmt.Errorf("invalid private key")
)

// Backend is the part of an RPC client the signer needs. *ethclient.Client implements it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Option configures a Client
type Option func(*Client)

// WithGasBufferPercent adds a share of the estimated gas to the gas limit
func WithGasBufferPercent(percent float64) Option {
	return func(c *Client) {
		c.gasBufferPercent = percent
	}
}

// WithExtraGasLimit adds a fixed amount of gas after the buffer
func WithExtraGasLimit(extra uint64) Option {
	return func(c *Client) {
		c.extraGasLimit = extra
	}
}

// WithReceiptInterval sets how often WaitForConfirmation polls for the receipt.
// Non-positive intervals keep the default.
func WithReceiptInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithChainID skips the chain id lookup on the first send
func WithChainID(chainID *big.Int) Option {
	return func(c *Client) {
		c.chainID = chainID
	}
}

// Client signs with one key
type Client struct {
	*Waiter

	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	nonces  *nonce.Tracker

	gasBufferPercent float64
	extraGasLimit    uint64

	chainMu sync.Mutex
	chainID *big.Int
}

// New creates a client sending through backend with the hex encoded private key
func New(backend Backend, keyHex string, opts ...Option) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	c := &Client{
		Waiter:           NewWaiter(backend, DefaultReceiptInterval),
		backend:          backend,
		key:              key,
		from:             crypto.PubkeyToAddress(key.PublicKey),
		nonces:           nonce.NewTracker(),
		gasBufferPercent: DefaultGasBufferPercent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to the RPC node at rawURL
func Dial(ctx context.Context, rawURL string, keyHex string, opts ...Option) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("couldn't dial %s: %w", rawURL, err)
	}
	c, err := New(rpc, keyHex, opts...)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return c, nil
}

// Address returns the sending account
func (c *Client) Address() common.Address {
	return c.from
}

// ChainID returns the chain id of the backend, cached after the first call
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't get chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

// BuildTx returns the unsigned dynamic fee transaction for raw. Its nonce is
// reserved and must be released if the transaction is never sent.
func (c *Client) BuildTx(ctx context.Context, raw txcart.RawTx) (*types.Transaction, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	to := raw.To
	value := raw.Value
	if value == nil {
		value = new(big.Int)
	}

	estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  raw.Data,
	})
	if err != nil {
		return nil, errors.Join(ErrEstimateGasFailed, fmt.Errorf("the tx is meant to revert or network error: %w", err))
	}

	tipCap, feeCap, err := c.gasSettings(ctx)
	if err != nil {
		return nil, err
	}

	mined, err := c.backend.NonceAt(ctx, c.from, nil)
	if err != nil {
		return nil, errors.Join(ErrAcquireNonceFailed, fmt.Errorf("couldn't get mined nonce: %w", err))
	}
	pending, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, errors.Join(ErrAcquireNonceFailed, fmt.Errorf("couldn't get pending nonce: %w", err))
	}
	reservation, err := c.nonces.Next(c.from, chainID.Uint64(), mined, pending)
	if err != nil {
		return nil, errors.Join(ErrAcquireNonceFailed, err)
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     reservation.Nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit(estimated, c.gasBufferPercent, c.extraGasLimit),
		To:        &to,
		Value:     value,
		Data:      raw.Data,
	}), nil
}

// SendTransaction builds, signs and broadcasts raw
func (c *Client) SendTransaction(ctx context.Context, raw txcart.RawTx) (common.Hash, error) {
	tx, err := c.BuildTx(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(tx.ChainId()), c.key)
	if err != nil {
		c.release(tx)
		return common.Hash{}, fmt.Errorf("couldn't sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		c.release(tx)
		return common.Hash{}, errors.Join(ErrBroadcastFailed, err)
	}

	logger.WithFields(logger.Fields{
		"from":      c.from.Hex(),
		"to":        raw.To.Hex(),
		"tx_hash":   signed.Hash().Hex(),
		"nonce":     signed.Nonce(),
		"gas_limit": signed.Gas(),
	}).Info("transaction broadcast")
	return signed.Hash(), nil
}

func (c *Client) gasSettings(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, errors.Join(ErrGetGasSettingFailed, err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, errors.Join(ErrGetGasSettingFailed, err)
	}
	if head.BaseFee == nil {
		return tipCap, new(big.Int).Set(tipCap), nil
	}
	feeCap = new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return tipCap, feeCap, nil
}

func (c *Client) release(tx *types.Transaction) {
	if err := c.nonces.Release(c.from, tx.ChainId().Uint64(), tx.Nonce()); err != nil {
		logger.WithFields(logger.Fields{
			"from":  c.from.Hex(),
			"nonce": tx.Nonce(),
			"error": err,
		}).Warn("couldn't release nonce")
	}
}

// gasLimit applies the percentage buffer to the estimate, then the fixed extra
func gasLimit(estimated uint64, bufferPercent float64, extra uint64) uint64 {
	return estimated + uint64(float64(estimated)*bufferPercent) + extra
}
