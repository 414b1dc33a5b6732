package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sessiondomain "github.com/sawyelin/ylstack-auth-sub000/internal/session/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store/memory"
)

type failingExpirer struct{}

func (failingExpirer) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

type fakePruner struct {
	cutoff time.Time
	n      int64
}

func (p *fakePruner) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.n, nil
}

func TestReaper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	require.NoError(t, st.Sessions.Create(ctx, &sessiondomain.Session{
		ID: "old", AccountID: "a", TokenHash: "h1", CredentialVersion: 1,
		CreatedAt: now.Add(-48 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, st.Sessions.Create(ctx, &sessiondomain.Session{
		ID: "live", AccountID: "a", TokenHash: "h2", CredentialVersion: 1,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	pruner := &fakePruner{n: 3}

	r := New([]Target{
		{Name: "sessions", Rows: st.Sessions},
		{Name: "broken", Rows: failingExpirer{}},
		{Name: "challenges", Rows: st.Challenges},
	}, pruner, Options{LockoutWindow: 15 * time.Minute, Now: func() time.Time { return now }}, nil)

	removed := r.Sweep(ctx)
	assert.Equal(t, int64(1), removed["sessions"])
	assert.Equal(t, int64(0), removed["challenges"])
	assert.Equal(t, int64(3), removed["login_failures"])
	_, ok := removed["broken"]
	assert.False(t, ok, "failed target should be omitted")
	assert.Equal(t, now.Add(-15*time.Minute), pruner.cutoff)

	live, err := st.Sessions.GetByTokenHash(ctx, "h2")
	require.NoError(t, err)
	assert.NotNil(t, live)
	gone, err := st.Sessions.GetByTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	r := New(nil, nil, Options{Interval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
