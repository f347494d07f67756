package revocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreReadYourWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))

	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryStoreExpiredEntryIsHarmless(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	// The lookup purged the stale entry.
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreExtendsNeverShortens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	long := time.Now().Add(time.Hour)
	require.NoError(t, store.Revoke(ctx, "jti-1", long))
	require.NoError(t, store.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))

	store.now = func() time.Time { return time.Now().Add(30 * time.Minute) }
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "stale-1", time.Now().Add(-time.Minute)))
	require.NoError(t, store.Revoke(ctx, "stale-2", time.Now().Add(-time.Second)))
	require.NoError(t, store.Revoke(ctx, "live", time.Now().Add(time.Hour)))

	assert.Equal(t, 2, store.Purge())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = store.Revoke(ctx, id, exp)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = store.IsRevoked(ctx, id)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		revoked, err := store.IsRevoked(ctx, string(rune('a'+i)))
		require.NoError(t, err)
		assert.True(t, revoked)
	}
}
