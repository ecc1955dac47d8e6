package chain

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type stubPendingCounter struct {
	mu      sync.Mutex
	pending uint64
	errs    int
	calls   int
}

func (s *stubPendingCounter) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.errs > 0 {
		s.errs--
		return 0, errors.New("rpc unavailable")
	}
	return s.pending, nil
}

func TestNonceSequencerConcurrent(t *testing.T) {
	backend := &stubPendingCounter{pending: 100}
	seq := NewNonceSequencer(backend, common.Address{})

	const n = 50
	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonce, err := seq.Next(context.Background())
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			results <- nonce
		}()
	}
	wg.Wait()
	close(results)

	var got []uint64
	for nonce := range results {
		got = append(got, nonce)
	}
	if len(got) != n {
		t.Fatalf("expected %d nonces, got %d", n, len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, nonce := range got {
		if nonce != uint64(100+i) {
			t.Fatalf("nonce[%d] = %d, want %d (no gaps, no repeats)", i, nonce, 100+i)
		}
	}
	if backend.calls != 1 {
		t.Fatalf("pending count read %d times, want 1", backend.calls)
	}
}

func TestNonceSequencerReadFailureDoesNotAdvance(t *testing.T) {
	backend := &stubPendingCounter{pending: 7, errs: 1}
	seq := NewNonceSequencer(backend, common.Address{})

	if _, err := seq.Next(context.Background()); !errors.Is(err, ErrChainRead) {
		t.Fatalf("expected chain read error, got %v", err)
	}

	// Retry starts from the chain value, not a stale cursor.
	nonce, err := seq.Next(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if nonce != 7 {
		t.Fatalf("nonce = %d, want 7", nonce)
	}
}
