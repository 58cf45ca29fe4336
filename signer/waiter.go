package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ReceiptBackend is the part of an RPC client the waiter needs
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Waiter implements txcart.ConfirmationWaiter by polling receipts
type Waiter struct {
	backend  ReceiptBackend
	interval time.Duration
}

func NewWaiter(backend ReceiptBackend, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = DefaultReceiptInterval
	}
	return &Waiter{backend: backend, interval: interval}
}

// DialWaiter connects a waiter to the RPC node at rawURL
func DialWaiter(ctx context.Context, rawURL string, interval time.Duration) (*Waiter, error) {
	rpc, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("couldn't dial %s: %w", rawURL, err)
	}
	return NewWaiter(rpc, interval), nil
}

// WaitForConfirmation polls for the receipt of hash until it is mined or ctx
// is done. A reverted transaction is returned as a receipt with failed status.
func (w *Waiter) WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithFields(logger.Fields{
				"tx_hash": hash.Hex(),
				"error":   err,
			}).Debug("couldn't get receipt, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
