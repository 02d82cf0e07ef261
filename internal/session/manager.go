// ABOUTME: Realtime session manager: dial, announce, reconnect, typed events, single writer
// ABOUTME: One instance per client process, injected into the inbox core

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/realtime"
)

// ErrNotConnected is returned by Emit while the transport is down.
var ErrNotConnected = errors.New("not connected")

// EventKind identifies an inbound session event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventPresence
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventPresence:
		return "presenceUpdate"
	case EventMessage:
		return "messageArrived"
	default:
		return "unknown"
	}
}

// Event is delivered on Manager.Events.
type Event struct {
	Kind EventKind
	// Presence is the full online set for EventPresence.
	Presence []chat.PresenceEntry
	// Arrival is set for EventMessage.
	Arrival chat.Arrival
	// Err is the transport error for EventDisconnected, if any.
	Err error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config configures a Manager.
type Config struct {
	Dialer      realtime.Dialer
	PrincipalID string
	Backoff     Backoff
	Logger      *slog.Logger
	// Sleep defaults to a timer honoring ctx.
	Sleep SleepFunc
	// EventBuffer sizes the Events channel (default 256).
	EventBuffer int
}

// Manager owns one realtime connection.
type Manager struct {
	dialer      realtime.Dialer
	principalID string
	backoff     Backoff
	sleep       SleepFunc
	logger      *slog.Logger
	events      chan Event

	mu       sync.RWMutex
	conn     realtime.Conn
	presence []chat.PresenceEntry
	online   map[string]struct{}

	writeMu sync.Mutex
}

// New creates a Manager. Call Run to start it.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Manager{
		dialer:      cfg.Dialer,
		principalID: cfg.PrincipalID,
		backoff:     backoff,
		sleep:       sleep,
		logger:      logger.With("component", "session", "principal", cfg.PrincipalID),
		events:      make(chan Event, buf),
		online:      make(map[string]struct{}),
	}
}

// PrincipalID returns the principal this session announces.
func (m *Manager) PrincipalID() string {
	return m.principalID
}

// Events returns the inbound event stream. It is closed when Run returns.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Run connects and keeps the session alive until ctx is cancelled. It always
// returns ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.events)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := m.backoff.Delay(attempt)
			attempt++
			m.logger.Warn("dial failed", "error", err, "attempt", attempt, "retry_in", delay)
			if err := m.sleep(ctx, delay); err != nil {
				return ctx.Err()
			}
			continue
		}

		m.setConn(conn)
		if err := m.Emit(ctx, realtime.EventAddUser, m.principalID); err != nil {
			m.logger.Warn("announce failed", "error", err)
			m.dropConn(conn)
			delay := m.backoff.Delay(attempt)
			attempt++
			if err := m.sleep(ctx, delay); err != nil {
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		m.logger.Info("connected")
		m.publish(ctx, Event{Kind: EventConnected})

		readErr := m.readLoop(ctx, conn)
		m.dropConn(conn)
		m.publish(ctx, Event{Kind: EventDisconnected, Err: readErr})

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := m.backoff.Delay(attempt)
		attempt++
		m.logger.Warn("disconnected", "error", readErr, "retry_in", delay)
		if err := m.sleep(ctx, delay); err != nil {
			return ctx.Err()
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn realtime.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if realtime.IsNormalClose(err) {
				return nil
			}
			return err
		}
		m.handleFrame(ctx, f)
	}
}

func (m *Manager) handleFrame(ctx context.Context, f realtime.Frame) {
	switch f.Event {
	case realtime.EventGetUsers:
		var entries []chat.PresenceEntry
		if err := f.Decode(&entries); err != nil {
			m.logger.Warn("bad getUsers frame", "error", err)
			return
		}
		m.setPresence(entries)
		m.publish(ctx, Event{Kind: EventPresence, Presence: entries})

	case realtime.EventGetMessage:
		var msg realtime.GetMessage
		if err := f.Decode(&msg); err != nil {
			m.logger.Warn("bad getMessage frame", "error", err)
			return
		}
		m.publish(ctx, Event{Kind: EventMessage, Arrival: msg.Arrival()})

	case realtime.EventError:
		var p realtime.ErrorPayload
		_ = f.Decode(&p)
		m.logger.Warn("relay rejected frame", "event", p.Event, "message", p.Message)

	default:
		m.logger.Debug("ignoring frame", "event", f.Event)
	}
}

// publish blocks until the consumer takes the event or ctx ends.
func (m *Manager) publish(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// Emit writes one frame. It is safe for concurrent use.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := realtime.NewFrame(event, payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.WriteFrame(f); err != nil {
		// Closing unblocks the read loop, which reconnects.
		conn.Close()
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Connected reports whether the transport is currently up.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// IsOnline reports whether principalID was online in the latest snapshot.
func (m *Manager) IsOnline(principalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.online[principalID]
	return ok
}

// Online returns the principal ids of the latest snapshot, sorted.
func (m *Manager) Online() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.online))
	for id := range m.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Presence returns a copy of the latest snapshot.
func (m *Manager) Presence() []chat.PresenceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.PresenceEntry(nil), m.presence...)
}

func (m *Manager) setPresence(entries []chat.PresenceEntry) {
	online := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		online[e.PrincipalID] = struct{}{}
	}
	m.mu.Lock()
	m.presence = append([]chat.PresenceEntry(nil), entries...)
	m.online = online
	m.mu.Unlock()
}

func (m *Manager) setConn(conn realtime.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) dropConn(conn realtime.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}
