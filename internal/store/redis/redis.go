package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
)

const defaultPrefix = "agentsync"

// Store keeps each agent's record as a JSON string under
// "<prefix>:status:<agent>" and indexes agent names in "<prefix>:agents".
type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

// WithTTL expires records that are not rewritten within ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	addr = strings.TrimPrefix(strings.TrimSpace(addr), "redis://")
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	s := &Store{prefix: defaultPrefix, addr: addr}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}
	return s, nil
}

func (s *Store) key(agent string) string { return s.prefix + ":status:" + agent }
func (s *Store) indexKey() string        { return s.prefix + ":agents" }

func (s *Store) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &status.DirectoryInitError{Dir: "redis://" + s.addr, Err: err}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec status.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.put(ctx, rec)
}

// put stores rec unless the stored record has a larger seq, in which case it
// returns *status.StaleWriteError.
// The WATCH makes a concurrent writer abort this transaction; the caller retries.
func (s *Store) put(ctx context.Context, rec status.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", rec.Agent, err)
	}
	key := s.key(rec.Agent)
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return err
		}
		if err == nil {
			var existing status.Record
			if json.Unmarshal(cur, &existing) == nil && existing.Seq > rec.Seq {
				return &status.StaleWriteError{Agent: rec.Agent, Seq: rec.Seq}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			pipe.SAdd(ctx, s.indexKey(), rec.Agent)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, status.ErrStale) {
		return err
	}
	if err != nil {
		return &status.IOError{Op: "set", Path: key, Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, agent string) (status.Record, error) {
	if err := status.ValidateAgent(agent); err != nil {
		return status.Record{}, err
	}
	raw, err := s.client.Get(ctx, s.key(agent)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return status.Record{}, status.ErrNotFound
		}
		return status.Record{}, &status.ReadError{Agent: agent, Path: s.key(agent), Err: err}
	}
	var rec status.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return status.Record{}, &status.ReadError{Agent: agent, Path: s.key(agent), Err: err}
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]status.Record, error) {
	agents, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, &status.ReadError{Agent: "*", Path: s.indexKey(), Err: err}
	}
	sort.Strings(agents)
	out := make([]status.Record, 0, len(agents))
	var errs []error
	for _, a := range agents {
		rec, err := s.Get(ctx, a)
		if errors.Is(err, status.ErrNotFound) {
			// expired through TTL; drop it from the index
			_ = s.client.SRem(ctx, s.indexKey(), a).Err()
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

func (s *Store) DeleteAgent(ctx context.Context, agent string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(agent))
	pipe.SRem(ctx, s.indexKey(), agent)
	if _, err := pipe.Exec(ctx); err != nil {
		return &status.IOError{Op: "del", Path: s.key(agent), Err: err}
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	agents, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return &status.IOError{Op: "smembers", Path: s.indexKey(), Err: err}
	}
	keys := make([]string, 0, len(agents)+1)
	for _, a := range agents {
		keys = append(keys, s.key(a))
	}
	keys = append(keys, s.indexKey())
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &status.IOError{Op: "del", Path: s.prefix, Err: err}
	}
	return nil
}

func (s *Store) Probe(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not reachable: %w", err)
	}
	key := s.key(store.SentinelAgent)
	if err := s.client.Set(ctx, key, "test", time.Minute).Err(); err != nil {
		return fmt.Errorf("redis not writable: %w", err)
	}
	return s.client.Del(ctx, key).Err()
}

func (s *Store) Close() error { return s.client.Close() }

var (
	_ store.Store  = (*Store)(nil)
	_ store.Prober = (*Store)(nil)
)
