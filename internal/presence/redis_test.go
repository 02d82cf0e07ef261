// ABOUTME: Integration tests for the Redis presence mirror
// ABOUTME: Run only when INBOX_TEST_REDIS points at a disposable Redis instance

package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/chat"
)

func newTestMirror(t *testing.T) *RedisMirror {
	t.Helper()
	addr := os.Getenv("INBOX_TEST_REDIS")
	if addr == "" {
		t.Skip("INBOX_TEST_REDIS not set")
	}
	m := NewRedisMirror(RedisConfig{Addr: addr, TTL: time.Minute, NodeID: "test"}, nil)
	t.Cleanup(func() { m.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Ping(ctx))
	return m
}

func TestRedisMirror_RegisterUnregister(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	entry := chat.PresenceEntry{PrincipalID: "p-" + uuid.NewString(), ConnectionID: uuid.NewString()}
	require.NoError(t, m.Register(ctx, entry))

	online, err := m.IsOnline(ctx, entry.PrincipalID)
	require.NoError(t, err)
	assert.True(t, online)

	principals, err := m.Online(ctx)
	require.NoError(t, err)
	assert.Contains(t, principals, entry.PrincipalID)

	require.NoError(t, m.Refresh(ctx, entry))
	require.NoError(t, m.Unregister(ctx, entry))

	online, err = m.IsOnline(ctx, entry.PrincipalID)
	require.NoError(t, err)
	assert.False(t, online)
}
