package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 1, p.err
}

func (p *recordingPruner) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func TestPruneEvents(t *testing.T) {
	t.Parallel()

	t.Run("prunes at start and on every tick", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		p := &recordingPruner{}
		done := make(chan struct{})
		go func() {
			pruneEvents(ctx, p, 72*time.Hour, 10*time.Millisecond, slog.New(slog.DiscardHandler))
			close(done)
		}()

		require.Eventually(t, func() bool { return len(p.calls()) >= 3 }, time.Second, 5*time.Millisecond)
		cancel()
		<-done

		first := p.calls()[0]
		assert.WithinDuration(t, time.Now().Add(-72*time.Hour), first, time.Minute)
	})

	t.Run("keeps running after a failed prune", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := &recordingPruner{err: errors.New("db down")}
		go pruneEvents(ctx, p, time.Hour, 10*time.Millisecond, slog.New(slog.DiscardHandler))

		require.Eventually(t, func() bool { return len(p.calls()) >= 2 }, time.Second, 5*time.Millisecond)
	})
}
