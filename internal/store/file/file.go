package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
)

const (
	currentExt = ".json"
	dirPerm    = 0o755
	filePerm   = 0o644
)

// entryPattern matches every file name that can hold an agent record:
// the current "<agent>.json" and the per-status files written by older releases.
var entryPattern = regexp.MustCompile(`^([^.]+)\.(json|pending|in_progress|complete|failed)$`)

// tempPattern matches temp files left by writeAtomic when a writer died
// before the rename.
var tempPattern = regexp.MustCompile(`^([^.]+)\.(json|pending|in_progress|complete|failed)\.tmp-`)

// Store keeps one JSON document per agent in a directory.
// Writes go to a temp file that is renamed over the current record, so a
// reader sees either the previous or the new record, never a partial one.
type Store struct {
	dir    string
	legacy bool
	mu     sync.Mutex // serializes writers within this process
}

// Option configures a Store.
type Option func(*Store)

// WithLegacyLayout also writes "<agent>.<status>" files so readers that only
// understand the per-status layout keep working.
func WithLegacyLayout(on bool) Option {
	return func(s *Store) { s.legacy = on }
}

// New returns a store rooted at dir. Call Init before use.
func New(dir string, opts ...Option) (*Store, error) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return nil, errors.New("empty status directory")
	}
	s := &Store{dir: filepath.Clean(d)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// AgentFromFile returns the agent a directory entry belongs to.
func AgentFromFile(name string) (string, bool) {
	m := entryPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (s *Store) Init(_ context.Context) error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return &status.DirectoryInitError{Dir: s.dir, Err: err}
	}
	return nil
}

func (s *Store) currentPath(agent string) string {
	return filepath.Join(s.dir, agent+currentExt)
}

// Put writes rec as the agent's current record. It returns
// *status.StaleWriteError when the stored record has a higher seq.
func (s *Store) Put(_ context.Context, rec status.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status of %s: %w", rec.Agent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// an unreadable or missing record is replaced
	if names, err := s.agentFiles(rec.Agent, false); err == nil {
		if cur, err := s.resolve(rec.Agent, names); err == nil && cur.Seq > rec.Seq {
			return &status.StaleWriteError{Agent: rec.Agent, Seq: rec.Seq}
		}
	}

	path := s.currentPath(rec.Agent)
	if err := writeAtomic(s.dir, path, data); err != nil {
		return err
	}
	if s.legacy {
		legacyPath := filepath.Join(s.dir, rec.Agent+"."+string(rec.Status))
		if err := writeAtomic(s.dir, legacyPath, data); err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic writes data to a temp file in dir and renames it onto path.
func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &status.IOError{Op: "create", Path: path, Err: err}
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &status.IOError{Op: "write", Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &status.IOError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &status.IOError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		_ = os.Remove(tmp)
		return &status.IOError{Op: "chmod", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &status.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// agentFiles returns the names of every unit stored for agent, plus its
// leftover temp files when withTemp is set.
func (s *Store) agentFiles(agent string, withTemp bool) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if a, ok := AgentFromFile(e.Name()); ok && a == agent {
			out = append(out, e.Name())
			continue
		}
		if withTemp {
			if m := tempPattern.FindStringSubmatch(e.Name()); m != nil && m[1] == agent {
				out = append(out, e.Name())
			}
		}
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, agent string) (status.Record, error) {
	if err := status.ValidateAgent(agent); err != nil {
		return status.Record{}, err
	}
	names, err := s.agentFiles(agent, false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return status.Record{}, status.ErrNotFound
		}
		return status.Record{}, &status.ReadError{Agent: agent, Path: s.dir, Err: err}
	}
	return s.resolve(agent, names)
}

// resolve decodes every candidate and keeps the newest by seq, then timestamp.
// A file that vanished between listing and reading is skipped; any other
// failure is reported unless a readable candidate exists.
func (s *Store) resolve(agent string, names []string) (status.Record, error) {
	var (
		best    status.Record
		found   bool
		lastErr error
	)
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		rec, err := readRecord(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			lastErr = &status.ReadError{Agent: agent, Path: path, Err: err}
			continue
		}
		if rec.Agent == "" {
			rec.Agent = agent
		}
		if !found || rec.Newer(best) {
			best = rec
			found = true
		}
	}
	if found {
		return best, nil
	}
	if lastErr != nil {
		return status.Record{}, lastErr
	}
	return status.Record{}, status.ErrNotFound
}

func readRecord(path string) (status.Record, error) {
	var rec status.Record
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *Store) List(_ context.Context) ([]status.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &status.ReadError{Agent: "*", Path: s.dir, Err: err}
	}
	byAgent := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if a, ok := AgentFromFile(e.Name()); ok {
			byAgent[a] = append(byAgent[a], e.Name())
		}
	}
	agents := make([]string, 0, len(byAgent))
	for a := range byAgent {
		agents = append(agents, a)
	}
	sort.Strings(agents)

	out := make([]status.Record, 0, len(agents))
	var errs []error
	for _, a := range agents {
		rec, err := s.resolve(a, byAgent[a])
		if err != nil {
			if errors.Is(err, status.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

func (s *Store) DeleteAgent(_ context.Context, agent string) error {
	if err := status.ValidateAgent(agent); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.agentFiles(agent, true)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &status.IOError{Op: "readdir", Path: s.dir, Err: err}
	}
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &status.IOError{Op: "remove", Path: path, Err: err}
		}
	}
	return nil
}

func (s *Store) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return &status.IOError{Op: "remove", Path: s.dir, Err: err}
	}
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return &status.DirectoryInitError{Dir: s.dir, Err: err}
	}
	return nil
}

// Probe checks the directory is accessible and writable by writing and
// removing the reserved sentinel file.
func (s *Store) Probe(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("status directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("status directory %s is not a directory", s.dir)
	}
	probe := filepath.Join(s.dir, store.SentinelAgent)
	if err := os.WriteFile(probe, []byte("test"), filePerm); err != nil {
		return fmt.Errorf("status directory not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("remove probe file: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

var (
	_ store.Store  = (*Store)(nil)
	_ store.Prober = (*Store)(nil)
)
