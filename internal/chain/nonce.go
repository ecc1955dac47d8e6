package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingCounter reports the pending transaction count for an address.
// *ethclient.Client satisfies it.
type PendingCounter interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceSequencer hands out strictly increasing nonces for the single
// custodial signer. All chain writers in the process share one sequencer; it
// is the sole serialization point preventing nonce collisions between the
// settlement loop, the orphan scanner, and shutdown cleanup.
//
// The cursor is initialized lazily from the chain's pending transaction count
// on the first call. The mutex is held across that read, so a second caller
// cannot start its own read until the first has resolved; after
// initialization each call advances the cursor by exactly one. A failed read
// leaves the cursor untouched and the caller must call Next again rather
// than reuse a stale value.
type NonceSequencer struct {
	mu      sync.Mutex
	backend PendingCounter
	signer  common.Address

	primed bool
	next   uint64
}

func NewNonceSequencer(backend PendingCounter, signer common.Address) *NonceSequencer {
	return &NonceSequencer{backend: backend, signer: signer}
}

// Next returns the nonce for one submission. Retries within a submission are
// replacements and must reuse the value; a new submission gets a new one.
func (s *NonceSequencer) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		pending, err := s.backend.PendingNonceAt(ctx, s.signer)
		if err != nil {
			return 0, &ReadError{Op: "pending nonce", Err: err}
		}
		s.next = pending
		s.primed = true
	}

	n := s.next
	s.next++
	return n, nil
}

// Signer returns the custodial signer address the sequencer tracks.
func (s *NonceSequencer) Signer() common.Address {
	return s.signer
}
