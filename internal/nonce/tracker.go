// Package nonce reserves transaction nonces for the local signer so that
// queued cart transactions sent back to back never reuse a nonce.
package nonce

import (
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

type key struct {
	wallet  common.Address
	chainID uint64
}

// Tracker remembers the last nonce reserved per wallet and chain
type Tracker struct {
	mu   sync.Mutex
	last map[key]uint64
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[key]uint64)}
}

// Reservation is the outcome of Next
type Reservation struct {
	Nonce  uint64
	Reason string
}

// Next reserves the nonce for the next transaction of wallet. mined and
// pending are the nonces the node reports. The local reservation wins when
// it is ahead of the node, which happens while sent transactions have not
// reached the node's pool yet.
func (t *Tracker) Next(wallet common.Address, chainID uint64, mined, pending uint64) (Reservation, error) {
	if mined > pending {
		logger.WithFields(logger.Fields{
			"wallet":   wallet.Hex(),
			"chain_id": chainID,
			"mined":    mined,
			"pending":  pending,
		}).Warn("node reported mined nonce above pending nonce")
		return Reservation{}, ErrAbnormalNonceState
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{wallet, chainID}
	res := Reservation{Nonce: pending, Reason: "remote pending"}
	if last, ok := t.last[k]; ok && last+1 > pending {
		res = Reservation{Nonce: last + 1, Reason: "local reservation ahead of node"}
	}
	t.last[k] = res.Nonce

	logger.WithFields(logger.Fields{
		"wallet":   wallet.Hex(),
		"chain_id": chainID,
		"nonce":    res.Nonce,
		"mined":    mined,
		"pending":  pending,
		"reason":   res.Reason,
	}).Debug("nonce reserved")
	return res, nil
}

// Release gives back a reserved nonce whose transaction was never broadcast.
// Only the most recent reservation can be released.
func (t *Tracker) Release(wallet common.Address, chainID uint64, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{wallet, chainID}
	last, ok := t.last[k]
	if !ok || last != nonce {
		return fmt.Errorf("%w: %d", ErrNotReserved, nonce)
	}
	if nonce == 0 {
		delete(t.last, k)
	} else {
		t.last[k] = nonce - 1
	}

	logger.WithFields(logger.Fields{
		"wallet":   wallet.Hex(),
		"chain_id": chainID,
		"nonce":    nonce,
	}).Debug("nonce released")
	return nil
}

// Last returns the last reserved nonce, if any
func (t *Tracker) Last(wallet common.Address, chainID uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.last[key{wallet, chainID}]
	return n, ok
}
