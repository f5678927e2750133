// ABOUTME: Tests that the mock store matches the SQLite store's contract
// ABOUTME: Focuses on the duplicate-session guard and conditional checkout

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_DuplicateSessionGuard(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, testSession("user-1", "loc-1", "2026-09-01")))
	err := m.CreateSession(ctx, testSession("user-1", "loc-1", "2026-09-01"))
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestMockStore_ConcurrentDuplicates(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.CreateSession(ctx, testSession("user-race", "loc-1", "2026-09-01"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestMockStore_ConditionalCheckout(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	sess := testSession("user-1", "loc-1", "2026-09-01")
	require.NoError(t, m.CreateSession(ctx, sess))

	out := time.Now().UTC()
	minutes := 60
	sess.CheckOutTime = &out
	sess.DurationMinutes = &minutes
	require.NoError(t, m.CompleteSession(ctx, sess))

	err := m.CompleteSession(ctx, sess)
	assert.ErrorIs(t, err, ErrNoOpenSession)
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	loc := testLocation()
	require.NoError(t, m.CreateWorkLocation(ctx, loc))

	got, err := m.GetWorkLocation(ctx, loc.ID)
	require.NoError(t, err)
	got.RadiusMeters = 1

	again, err := m.GetWorkLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, again.RadiusMeters, "mutating a returned copy must not change the store")
}
