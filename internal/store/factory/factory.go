package factory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/agentsync/internal/store"
	"github.com/loykin/agentsync/internal/store/file"
	pg "github.com/loykin/agentsync/internal/store/postgres"
	rd "github.com/loykin/agentsync/internal/store/redis"
	sq "github.com/loykin/agentsync/internal/store/sqlite"
)

// Builder creates a store from config.
type Builder func(cfg store.Config) (store.Store, error)

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func init() {
	Register("file", func(cfg store.Config) (store.Store, error) {
		return file.New(cfg.Dir, file.WithLegacyLayout(cfg.LegacyLayout))
	})
	Register("sqlite", func(cfg store.Config) (store.Store, error) {
		return sq.New(cfg.DSN)
	})
	pgBuilder := func(cfg store.Config) (store.Store, error) {
		return pg.New(cfg.DSN)
	}
	Register("postgres", pgBuilder)
	Register("postgresql", pgBuilder)
	Register("redis", func(cfg store.Config) (store.Store, error) {
		return rd.New(cfg.DSN,
			rd.WithPassword(cfg.Password),
			rd.WithDB(cfg.DB),
			rd.WithPrefix(cfg.Prefix),
			rd.WithTTL(cfg.TTL),
		)
	})
}

// Register adds or replaces the builder for a store type.
func Register(storeType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[strings.ToLower(storeType)] = b
}

// SupportedTypes lists the registered store types, sorted.
func SupportedTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// New builds the store selected by cfg.Type; an empty type means "file".
func New(cfg store.Config) (store.Store, error) {
	t := strings.ToLower(strings.TrimSpace(cfg.Type))
	if t == "" {
		t = "file"
	}
	mu.RLock()
	b, ok := builders[t]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", t, SupportedTypes())
	}
	return b(cfg)
}

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: "postgres://..." or "postgresql://..."
//   - redis:    "redis://host:port"
//   - sqlite:   "sqlite:///<path>"
//   - file:     "file://<dir>" or a bare directory path
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return New(store.Config{Type: "postgres", DSN: d})
	case strings.HasPrefix(ld, "redis://"):
		return New(store.Config{Type: "redis", DSN: d})
	case strings.HasPrefix(ld, "sqlite://"):
		return New(store.Config{Type: "sqlite", DSN: strings.TrimPrefix(d, "sqlite://")})
	case strings.HasPrefix(ld, "file://"):
		return New(store.Config{Type: "file", Dir: d[len("file://"):]})
	}
	return New(store.Config{Type: "file", Dir: d})
}
