// ABOUTME: Tests for the conversation directory
// ABOUTME: Covers activity ordering, placeholders, malformed rows, load failures and superseded loads

package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/chat"
)

type stubLister struct {
	mu    sync.Mutex
	convs []*chat.Conversation
	err   error
	calls []string
	block chan struct{}
}

func (s *stubLister) ListConversations(ctx context.Context, role chat.Role, principalID string) ([]*chat.Conversation, error) {
	s.mu.Lock()
	s.calls = append(s.calls, string(role)+"/"+principalID)
	convs, err, block := s.convs, s.err, s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	return convs, err
}

type stubPresence map[string]bool

func (p stubPresence) IsOnline(id string) bool { return p[id] }

func ptr[T any](v T) *T { return &v }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func conv(id string, members []string, last *string, at *time.Time) *chat.Conversation {
	return &chat.Conversation{ID: id, Members: members, LastMessage: last, LastMessageTime: at, CreatedAt: base}
}

func TestLoad_SortsByLastMessageTime(t *testing.T) {
	lister := &stubLister{convs: []*chat.Conversation{
		conv("c2", []string{"b1", "s2"}, ptr("older"), ptr(base.Add(time.Minute))),
		conv("c3", []string{"b1", "s3"}, nil, nil),
		conv("c1", []string{"b1", "s1"}, ptr("newer"), ptr(base.Add(time.Hour))),
	}}
	d := New(Config{Client: lister, Principal: chat.Principal{ID: "b1", Role: chat.RoleUser}})

	require.NoError(t, d.Load(context.Background()))

	ids := []string{}
	for _, c := range d.Conversations() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, []string{"user/b1"}, lister.calls)
}

func TestLoad_TiesBreakOnID(t *testing.T) {
	at := ptr(base)
	lister := &stubLister{convs: []*chat.Conversation{
		conv("cb", []string{"b1", "s2"}, ptr("x"), at),
		conv("ca", []string{"b1", "s1"}, ptr("y"), at),
	}}
	d := New(Config{Client: lister, Principal: chat.Principal{ID: "b1", Role: chat.RoleUser}})
	require.NoError(t, d.Load(context.Background()))

	convs := d.Conversations()
	assert.Equal(t, "ca", convs[0].ID)
	assert.Equal(t, "cb", convs[1].ID)
}

func TestEntries_PlaceholdersAndPresence(t *testing.T) {
	lister := &stubLister{convs: []*chat.Conversation{
		conv("c1", []string{"b1", "s1"}, ptr("see you"), ptr(base)),
		conv("c2", []string{"b2", "s1"}, nil, nil),
		conv("broken", []string{"s1"}, nil, nil),
	}}
	d := New(Config{
		Client:    lister,
		Principal: chat.Principal{ID: "s1", Role: chat.RoleSeller},
		Presence:  stubPresence{"b1": true},
	})
	require.NoError(t, d.Load(context.Background()))

	entries := d.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, "b1", entries[0].PeerID)
	assert.Equal(t, "see you", entries[0].Preview)
	assert.True(t, entries[0].PeerOnline)
	assert.True(t, entries[0].Valid)

	byID := map[string]Entry{}
	for _, e := range entries {
		byID[e.ConversationID] = e
	}
	assert.Equal(t, NoMessagesLabel, byID["c2"].Preview)
	assert.False(t, byID["c2"].PeerOnline)
	assert.Equal(t, UnknownLabel, byID["broken"].Label)
	assert.False(t, byID["broken"].Valid)
}

func TestLoad_FailureKeepsPreviousList(t *testing.T) {
	lister := &stubLister{convs: []*chat.Conversation{conv("c1", []string{"b1", "s1"}, nil, nil)}}
	d := New(Config{Client: lister, Principal: chat.Principal{ID: "b1", Role: chat.RoleUser}})
	require.NoError(t, d.Load(context.Background()))

	lister.mu.Lock()
	lister.err = errors.New("boom")
	lister.mu.Unlock()

	err := d.Load(context.Background())
	require.Error(t, err)
	assert.Error(t, d.Err())

	_, ok := d.Get("c1")
	assert.True(t, ok)
}

func TestLoad_SupersededResultDiscarded(t *testing.T) {
	slow := &stubLister{
		convs: []*chat.Conversation{conv("stale", []string{"b1", "s1"}, nil, nil)},
		block: make(chan struct{}),
	}
	d := New(Config{Client: slow, Principal: chat.Principal{ID: "b1", Role: chat.RoleUser}})

	done := make(chan error, 1)
	go func() { done <- d.Load(context.Background()) }()

	require.Eventually(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return len(slow.calls) == 1
	}, time.Second, 5*time.Millisecond)

	// A second load starts and finishes first.
	slow.mu.Lock()
	first := slow.block
	slow.block = nil
	slow.convs = []*chat.Conversation{conv("fresh", []string{"b1", "s1"}, nil, nil)}
	slow.mu.Unlock()
	require.NoError(t, d.Load(context.Background()))

	close(first)
	require.NoError(t, <-done)

	_, staleSeen := d.Get("stale")
	_, freshSeen := d.Get("fresh")
	assert.False(t, staleSeen)
	assert.True(t, freshSeen)
}

func TestApply_ResortsAndInserts(t *testing.T) {
	lister := &stubLister{convs: []*chat.Conversation{
		conv("c1", []string{"b1", "s1"}, ptr("a"), ptr(base.Add(time.Hour))),
		conv("c2", []string{"b1", "s2"}, ptr("b"), ptr(base)),
	}}
	d := New(Config{Client: lister, Principal: chat.Principal{ID: "b1", Role: chat.RoleUser}})
	require.NoError(t, d.Load(context.Background()))

	d.Apply(conv("c2", []string{"b1", "s2"}, ptr("bump"), ptr(base.Add(2*time.Hour))))
	d.Apply(conv("c3", []string{"b1", "s3"}, nil, nil))

	convs := d.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "bump", *convs[0].LastMessage)
	assert.Equal(t, "c3", convs[2].ID)
}
