// ABOUTME: Optional Redis mirror of presence entries under TTL keys
// ABOUTME: Lets external observers query who is online without the relay

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halfattire/inbox/internal/chat"
)

// KeyPrefix prefixes every presence key written to Redis.
const KeyPrefix = "inbox:presence:"

// DefaultMirrorTTL is how long a mirrored entry survives without a refresh.
const DefaultMirrorTTL = 2 * time.Minute

// Mirror receives presence changes from the relay.
type Mirror interface {
	Register(ctx context.Context, entry chat.PresenceEntry) error
	Unregister(ctx context.Context, entry chat.PresenceEntry) error
	Close() error
}

// RedisConfig configures a RedisMirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	NodeID   string
}

type mirroredEntry struct {
	PrincipalID  string    `json:"userId"`
	ConnectionID string    `json:"socketId"`
	NodeID       string    `json:"nodeId,omitempty"`
	Since        time.Time `json:"since"`
}

// RedisMirror writes presence entries to Redis.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	nodeID string
	logger *slog.Logger
}

// NewRedisMirror creates a mirror connected to cfg.Addr.
func NewRedisMirror(cfg RedisConfig, logger *slog.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisMirror(client, cfg, logger)
}

func newRedisMirror(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &RedisMirror{
		client: client,
		ttl:    ttl,
		nodeID: cfg.NodeID,
		logger: logger.With("component", "presence-redis"),
	}
}

// Key builds the Redis key for an entry.
func Key(principalID, connID string) string {
	return KeyPrefix + principalID + ":" + connID
}

// Register stores entry with the mirror TTL.
func (m *RedisMirror) Register(ctx context.Context, entry chat.PresenceEntry) error {
	data, err := json.Marshal(mirroredEntry{
		PrincipalID:  entry.PrincipalID,
		ConnectionID: entry.ConnectionID,
		NodeID:       m.nodeID,
		Since:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}

	if err := m.client.Set(ctx, Key(entry.PrincipalID, entry.ConnectionID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	m.logger.Debug("registered presence", "principal", entry.PrincipalID, "conn", entry.ConnectionID)
	return nil
}

// Unregister deletes the entry's key.
func (m *RedisMirror) Unregister(ctx context.Context, entry chat.PresenceEntry) error {
	if err := m.client.Del(ctx, Key(entry.PrincipalID, entry.ConnectionID)).Err(); err != nil {
		return fmt.Errorf("unregister presence: %w", err)
	}
	return nil
}

// Refresh extends the TTL of an entry that is still live.
func (m *RedisMirror) Refresh(ctx context.Context, entry chat.PresenceEntry) error {
	return m.client.Expire(ctx, Key(entry.PrincipalID, entry.ConnectionID), m.ttl).Err()
}

// IsOnline reports whether any key exists for principalID.
func (m *RedisMirror) IsOnline(ctx context.Context, principalID string) (bool, error) {
	iter := m.client.Scan(ctx, 0, KeyPrefix+principalID+":*", 100).Iterator()
	for iter.Next(ctx) {
		if p, _, ok := parseKey(iter.Val()); ok && p == principalID {
			return true, nil
		}
	}
	return false, iter.Err()
}

// Online lists the principals with at least one mirrored connection.
func (m *RedisMirror) Online(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	iter := m.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if principalID, _, ok := parseKey(iter.Val()); ok {
			seen[principalID] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out, nil
}

// Ping checks the Redis connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func parseKey(key string) (principalID, connID string, ok bool) {
	rest, found := strings.CutPrefix(key, KeyPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

var _ Mirror = (*RedisMirror)(nil)
