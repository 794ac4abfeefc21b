package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type failingRegistry struct {
	*MemoryRegistry
	err error
}

func (f failingRegistry) SweepExpired(context.Context, time.Time) (int, error) {
	return 0, f.err
}

func TestSweeperRunRemovesExpiredAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	r := NewMemoryRegistry()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, r.Insert(ctx, "a", Entry{SubjectID: "s1", ExpiresAt: past}))
	require.NoError(t, r.Insert(ctx, "b", Entry{SubjectID: "s2", ExpiresAt: past}))
	require.NoError(t, r.Insert(ctx, "live", Entry{SubjectID: "s2", ExpiresAt: time.Now().Add(time.Hour)}))

	s := NewSweeper(r, 5*time.Millisecond, zerolog.Nop())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	_, ok, err := r.Lookup(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSweeperRunSurvivesFailedPass(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	s := NewSweeper(failingRegistry{MemoryRegistry: NewMemoryRegistry(), err: errors.New("backend down")}, 2*time.Millisecond, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Contains(t, buf.String(), "registry sweep failed")
	assert.Contains(t, buf.String(), "backend down")
}

func TestSweepOnceUsesClock(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, "a", Entry{SubjectID: "s", ExpiresAt: now.Add(time.Minute)}))

	s := NewSweeper(r, time.Hour, zerolog.Nop())
	s.now = func() time.Time { return now }

	removed, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	removed, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSweeperDefaultsInterval(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewSweeper(NewMemoryRegistry(), 0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
}
