package session

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sweepFunc func(ctx context.Context, now, threshold time.Time) (int, error)

func (f sweepFunc) DeleteExpiredOrStaleRevoked(ctx context.Context, now, threshold time.Time) (int, error) {
	return f(ctx, now, threshold)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaper_SweepUsesRetentionThreshold(t *testing.T) {
	t.Parallel()

	var gotNow, gotThreshold time.Time
	r := NewReaper(sweepFunc(func(_ context.Context, now, threshold time.Time) (int, error) {
		gotNow, gotThreshold = now, threshold
		return 3, nil
	}), DefaultConfig(), discardLogger())

	n, err := r.Sweep(context.Background(), t0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, t0, gotNow)
	require.Equal(t, t0.Add(-7*24*time.Hour), gotThreshold)
}

func TestReaper_SweepRecoversPanic(t *testing.T) {
	t.Parallel()

	r := NewReaper(sweepFunc(func(context.Context, time.Time, time.Time) (int, error) {
		panic("disk on fire")
	}), DefaultConfig(), discardLogger())

	_, err := r.Sweep(context.Background(), t0)
	require.ErrorContains(t, err, "disk on fire")
}

func TestReaper_RunSweepsUntilCancelled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cfg := DefaultConfig()
	cfg.ReaperInterval = 5 * time.Millisecond

	r := NewReaper(sweepFunc(func(context.Context, time.Time, time.Time) (int, error) {
		// Failures must not stop the loop.
		if calls.Add(1)%2 == 0 {
			return 0, context.DeadlineExceeded
		}
		return 1, nil
	}), cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop after cancel")
	}
}

func TestReaper_AgainstMemoryStore(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, testRecord("fp-old", "u1", t0)))
	require.NoError(t, st.Save(ctx, testRecord("fp-new", "u1", t0.Add(2*time.Hour))))

	r := NewReaper(st, DefaultConfig(), discardLogger())
	n, err := r.Sweep(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = st.FindByFingerprint(ctx, "fp-new")
	require.NoError(t, err)
}
