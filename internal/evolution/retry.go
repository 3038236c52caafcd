package evolution

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded exponential backoff schedule. The zero limit
// fields of DefaultPolicy give 3 attempts with waits of roughly
// 2s and 4s between them, never above Cap.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

var DefaultPolicy = Policy{
	Attempts: 3,
	Base:     2 * time.Second,
	Cap:      10 * time.Second,
}

// wait returns the backoff before attempt n (0-based), with up to 10%
// jitter so simultaneous retries spread out.
func (p Policy) wait(n int) time.Duration {
	d := p.Base << uint(n)
	if d > p.Cap || d <= 0 {
		d = p.Cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}

// Do runs op until it succeeds, the attempt budget runs out, or the
// error is rejected by retryable. The last error is returned as is so
// callers can still classify it.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, op func(ctx context.Context) error) error {
	var err error
	for n := 0; n < p.Attempts; n++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if n == p.Attempts-1 {
			break
		}
		t := time.NewTimer(p.wait(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
