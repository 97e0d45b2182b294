package orders

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// FaultInjector simulates an unreliable downstream collaborator. Call is
// invoked at the start of every activity; it either returns promptly, fails
// with a transient error, or stalls until the stall duration elapses or the
// context is cancelled.
type FaultInjector interface {
	Call(ctx context.Context, name string) error
}

// NoFaults is a FaultInjector that always succeeds immediately.
type NoFaults struct{}

func (NoFaults) Call(context.Context, string) error { return nil }

// FlakyCaller fails a fraction of calls and stalls another fraction, so the
// retry and timeout machinery has something real to chew on.
type FlakyCaller struct {
	mu         sync.Mutex
	rng        *rand.Rand
	errRatio   float64
	stallRatio float64
	stallFor   time.Duration
	logf       func(format string, args ...any)
}

// NewFlakyCaller constructs a FlakyCaller with the given failure and stall
// ratios. A stalled call sleeps far past any per-attempt timeout, so the
// caller observes it as a timed-out attempt.
func NewFlakyCaller(seed int64, errRatio, stallRatio float64, stallFor time.Duration, logf func(format string, args ...any)) *FlakyCaller {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &FlakyCaller{
		rng:        rand.New(rand.NewSource(seed)),
		errRatio:   errRatio,
		stallRatio: stallRatio,
		stallFor:   stallFor,
		logf:       logf,
	}
}

func (f *FlakyCaller) Call(ctx context.Context, name string) error {
	f.mu.Lock()
	roll := f.rng.Float64()
	f.mu.Unlock()

	switch {
	case roll < f.errRatio:
		f.logf("flaky: %s failing this attempt", name)
		return fmt.Errorf("%s: transient downstream failure", name)
	case roll < f.errRatio+f.stallRatio:
		f.logf("flaky: %s stalling for %s", name, f.stallFor)
		timer := time.NewTimer(f.stallFor)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return nil
	}
}
