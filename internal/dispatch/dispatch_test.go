// ABOUTME: Tests for the dispatch send path
// ABOUTME: Verifies persist-before-emit ordering, rollback on persist failure and non-fatal summary errors

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/realtime"
	"github.com/halfattire/inbox/internal/restclient"
	"github.com/halfattire/inbox/internal/session"
	"github.com/halfattire/inbox/internal/thread"
)

var t1 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// recorder collects the order of side effects across fakes.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type fakePersister struct {
	rec       *recorder
	createErr error
	updateErr error
	created   []restclient.CreateMessageInput
	summaries []string
}

func (p *fakePersister) CreateMessage(ctx context.Context, in restclient.CreateMessageInput) (*chat.Message, error) {
	p.rec.add("persist")
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.created = append(p.created, in)
	return &chat.Message{
		ID:             fmt.Sprintf("m%d", len(p.created)),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		Text:           in.Text,
		Images:         in.Images,
		CreatedAt:      t1,
	}, nil
}

func (p *fakePersister) UpdateLastMessage(ctx context.Context, convID, last, lastID string) (*chat.Conversation, error) {
	p.rec.add("summary")
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	p.summaries = append(p.summaries, last+"/"+lastID)
	return &chat.Conversation{ID: convID, Members: []string{"alice", "bob"}, LastMessage: &last, LastMessageID: lastID, LastMessageTime: &t1}, nil
}

type fakeEmitter struct {
	rec    *recorder
	err    error
	frames []realtime.SendMessage
}

func (e *fakeEmitter) Emit(ctx context.Context, event string, payload any) error {
	e.rec.add("emit")
	if e.err != nil {
		return e.err
	}
	e.frames = append(e.frames, payload.(realtime.SendMessage))
	return nil
}

type fakeDirectory struct {
	rec     *recorder
	convs   map[string]*chat.Conversation
	onLoad  func()
	applied []*chat.Conversation
}

func (d *fakeDirectory) Get(id string) (*chat.Conversation, bool) {
	c, ok := d.convs[id]
	return c, ok
}

func (d *fakeDirectory) Apply(conv *chat.Conversation) { d.applied = append(d.applied, conv) }

func (d *fakeDirectory) Load(ctx context.Context) error {
	d.rec.add("refresh")
	if d.onLoad != nil {
		d.onLoad()
	}
	return nil
}

type emptyFetcher struct{}

func (emptyFetcher) ListMessages(ctx context.Context, id string) ([]*chat.Message, error) {
	return nil, nil
}

type fixture struct {
	rec       *recorder
	persister *fakePersister
	emitter   *fakeEmitter
	directory *fakeDirectory
	thread    *thread.Reconciler
	d         *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	conv := &chat.Conversation{ID: "c1", Members: []string{"alice", "bob"}, CreatedAt: t1}
	f := &fixture{
		rec:       rec,
		persister: &fakePersister{rec: rec},
		emitter:   &fakeEmitter{rec: rec},
		directory: &fakeDirectory{rec: rec, convs: map[string]*chat.Conversation{
			"c1":     conv,
			"others": {ID: "others", Members: []string{"carol", "bob"}},
		}},
		thread: thread.New(thread.Config{Fetcher: emptyFetcher{}}),
	}
	require.NoError(t, f.thread.Open(context.Background(), conv))
	f.d = New(Config{
		PrincipalID: "alice",
		Persister:   f.persister,
		Emitter:     f.emitter,
		Directory:   f.directory,
		Thread:      f.thread,
		Now:         func() time.Time { return t1.Add(-time.Second) },
	})
	return f
}

func TestSend_PersistsBeforeEmit(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Send(context.Background(), "c1", "  Hello  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	assert.Equal(t, []string{"persist", "emit", "summary", "refresh"}, f.rec.all())

	require.Len(t, f.emitter.frames, 1)
	frame := f.emitter.frames[0]
	assert.Equal(t, "alice", frame.SenderID)
	assert.Equal(t, "bob", frame.ReceiverID)
	assert.Equal(t, "Hello", frame.Text)
	assert.Equal(t, "c1", frame.ConversationID)
	assert.Equal(t, "m1", frame.MessageID)
	assert.Equal(t, t1, frame.CreatedAt)

	assert.Equal(t, []string{"Hello/alice"}, f.persister.summaries)
	require.Len(t, f.directory.applied, 1)

	entries := f.thread.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, thread.StatusConfirmed, entries[0].Status)
}

func TestSend_PersistFailureMarksFailedAndSkipsEmit(t *testing.T) {
	f := newFixture(t)
	f.persister.createErr = errors.New("dial tcp: connection refused")

	_, err := f.d.Send(context.Background(), "c1", "lost", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, f.persister.createErr)

	assert.Equal(t, []string{"persist"}, f.rec.all())
	assert.Empty(t, f.emitter.frames)

	entries := f.thread.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, thread.StatusFailed, entries[0].Status)
	assert.Equal(t, "lost", entries[0].Text)
}

func TestSend_OfflineEmitIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.emitter.err = session.ErrNotConnected

	msg, err := f.d.Send(context.Background(), "c1", "queued in history", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, []string{"persist", "emit", "summary", "refresh"}, f.rec.all())
}

func TestSend_SummaryFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.persister.updateErr = errors.New("500")

	_, err := f.d.Send(context.Background(), "c1", "hi", nil)
	require.NoError(t, err)
	assert.Empty(t, f.directory.applied)
	assert.Equal(t, []string{"persist", "emit", "summary", "refresh"}, f.rec.all())
}

func TestSend_ImagesOnly(t *testing.T) {
	f := newFixture(t)

	msg, err := f.d.Send(context.Background(), "c1", "", []string{"a.png", "b.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png"}, msg.Images)
	assert.Equal(t, []string{"Sent 2 photos/alice"}, f.persister.summaries)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.d.Send(context.Background(), "c1", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.d.Send(context.Background(), "missing", "hi", nil)
	assert.ErrorIs(t, err, ErrUnknownConversation)

	_, err = f.d.Send(context.Background(), "others", "hi", nil)
	assert.ErrorIs(t, err, ErrNotMember)

	assert.Equal(t, []string{"refresh"}, f.rec.all())
	assert.Empty(t, f.thread.Messages())
}

func TestSend_UnknownConversationFoundAfterRefresh(t *testing.T) {
	f := newFixture(t)
	f.directory.onLoad = func() {
		f.directory.convs["c2"] = &chat.Conversation{ID: "c2", Members: []string{"dave", "alice"}}
	}

	_, err := f.d.Send(context.Background(), "c2", "new thread", nil)
	require.NoError(t, err)
	require.Len(t, f.emitter.frames, 1)
	assert.Equal(t, "dave", f.emitter.frames[0].ReceiverID)
	// Thread is open on c1, so nothing was appended there.
	assert.Empty(t, f.thread.Messages())
}
