package crypto

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Deriver runs DeriveKey with a cap on how many derivations execute at
// once. PBKDF2 is CPU bound; without the cap a burst of wallet requests
// would occupy every core and starve unrelated work.
type Deriver struct {
	sem *semaphore.Weighted
}

// NewDeriver returns a Deriver allowing at most concurrency parallel
// derivations. Values below 1 default to half the available CPUs.
func NewDeriver(concurrency int) *Deriver {
	if concurrency < 1 {
		concurrency = runtime.NumCPU() / 2
		if concurrency < 1 {
			concurrency = 1
		}
	}
	return &Deriver{sem: semaphore.NewWeighted(int64(concurrency))}
}

// Derive waits for a derivation slot and returns DeriveKey's result.
// It returns ctx.Err() if the context ends while waiting.
func (d *Deriver) Derive(ctx context.Context, master []byte, userID, walletID string, salt []byte) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrEmptySecret
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	return DeriveKey(master, userID, walletID, salt), nil
}
