// Package dirmirror mirrors the open-room directory into Redis so that processes outside
// the server (dashboards, the roomcheck probe) can read it or follow changes.
package dirmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Event is published on the directory channel after every write.
type Event struct {
	Version int64    `json:"version"`
	Rooms   []string `json:"rooms"`
	At      int64    `json:"at"`
}

type Mirror struct {
	rdb     *redis.Client
	key     string
	channel string
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger

	pending chan []string
}

type Option func(*Mirror)

func WithKey(key string) Option {
	return func(m *Mirror) {
		if strings.TrimSpace(key) != "" {
			m.key = key
		}
	}
}

func WithChannel(ch string) Option {
	return func(m *Mirror) {
		if strings.TrimSpace(ch) != "" {
			m.channel = ch
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.log = l
		}
	}
}

// New connects to redisURL (redis:// or rediss://, db index in the path) and pings it.
func New(ctx context.Context, redisURL string, opts ...Option) (*Mirror, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for directory mirror")
	}
	ropts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, opts...), nil
}

func NewWithClient(rdb *redis.Client, opts ...Option) *Mirror {
	m := &Mirror{
		rdb:     rdb,
		key:     "chessrooms:directory",
		channel: "chessrooms:directory:events",
		ttl:     24 * time.Hour,
		timeout: 3 * time.Second,
		log:     zap.NewNop(),
		pending: make(chan []string, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update queues ids for the writer, replacing any snapshot not yet written. Never blocks.
func (m *Mirror) Update(ids []string) {
	for {
		select {
		case m.pending <- ids:
			return
		default:
		}
		select {
		case <-m.pending:
		default:
		}
	}
}

// Run writes queued snapshots until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ids := <-m.pending:
			wctx, cancel := context.WithTimeout(ctx, m.timeout)
			if err := m.Flush(wctx, ids); err != nil {
				m.log.Warn("dirmirror_flush_failed", zap.Int("rooms", len(ids)), zap.Error(err))
			}
			cancel()
		}
	}
}

// Flush replaces the mirrored set with ids and publishes an Event.
func (m *Mirror) Flush(ctx context.Context, ids []string) error {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
	}
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, m.key)
	if len(members) > 0 {
		pipe.SAdd(ctx, m.key, members...)
		pipe.Expire(ctx, m.key, m.ttl)
	}
	ver := pipe.Incr(ctx, m.versionKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write directory: %w", err)
	}

	rooms := append([]string{}, ids...)
	raw, err := json.Marshal(Event{Version: ver.Val(), Rooms: rooms, At: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	if err := m.rdb.Publish(ctx, m.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish directory: %w", err)
	}
	m.log.Debug("dirmirror_flush", zap.Int64("version", ver.Val()), zap.Int("rooms", len(ids)))
	return nil
}

// Rooms reads the mirrored directory, sorted.
func (m *Mirror) Rooms(ctx context.Context) ([]string, error) {
	ids, err := m.rdb.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Version returns the number of writes so far.
func (m *Mirror) Version(ctx context.Context) (int64, error) {
	v, err := m.rdb.Get(ctx, m.versionKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Subscribe calls fn for every published Event until ctx is done.
func (m *Mirror) Subscribe(ctx context.Context, fn func(Event)) error {
	sub := m.rdb.Subscribe(ctx, m.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				m.log.Warn("dirmirror_bad_event", zap.Error(err))
				continue
			}
			fn(ev)
		}
	}
}

// Close clears the mirrored set and closes the client.
func (m *Mirror) Close(ctx context.Context) error {
	if m == nil || m.rdb == nil {
		return nil
	}
	err := m.Flush(ctx, nil)
	return multierr.Append(err, m.rdb.Close())
}

// Release closes the client and leaves the mirrored directory as it is. Watchers that do
// not own the directory use it instead of Close.
func (m *Mirror) Release() error {
	if m == nil || m.rdb == nil {
		return nil
	}
	return m.rdb.Close()
}

func (m *Mirror) versionKey() string { return m.key + ":version" }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
