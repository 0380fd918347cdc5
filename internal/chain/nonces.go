package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type pendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// nonceCursor reserves nonces for one account. The pending nonce is read lazily and again after
// release, so a broadcast that never reached the mempool does not leave a gap.
type nonceCursor struct {
	backend pendingNoncer
	account common.Address

	mu     sync.Mutex
	next   uint64
	synced bool
}

func newNonceCursor(backend pendingNoncer, account common.Address) *nonceCursor {
	return &nonceCursor{backend: backend, account: account}
}

func (c *nonceCursor) reserve(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.synced {
		pending, err := c.backend.PendingNonceAt(ctx, c.account)
		if err != nil {
			return 0, err
		}
		c.next, c.synced = pending, true
	}
	n := c.next
	c.next++
	return n, nil
}

// release forgets the local counter; the next reserve re-reads the pending nonce.
func (c *nonceCursor) release() {
	c.mu.Lock()
	c.synced = false
	c.mu.Unlock()
}
