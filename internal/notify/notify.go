package notify

import (
	"log/slog"
	"sync"

	"github.com/loykin/agentsync/internal/status"
)

// Func receives a record after it was written successfully.
type Func func(status.Record)

// Notifier dispatches status changes to subscribers synchronously, in the
// goroutine that published them and in registration order.
type Notifier struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*Subscription
	logger *slog.Logger

	lastMu sync.Mutex
	last   map[string]int64 // highest seq published per agent via PublishNew
}

// Subscription is the handle returned by Subscribe. Cancel removes it.
type Subscription struct {
	id    uint64
	agent string // empty matches every agent
	fn    Func
	n     *Notifier
	once  sync.Once
}

func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger.With("component", "notify"), last: make(map[string]int64)}
}

// Subscribe registers fn for records of agent.
func (n *Notifier) Subscribe(agent string, fn Func) *Subscription {
	return n.add(agent, fn)
}

// SubscribeAll registers fn for every record.
func (n *Notifier) SubscribeAll(fn Func) *Subscription {
	return n.add("", fn)
}

func (n *Notifier) add(agent string, fn Func) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	s := &Subscription{id: n.nextID, agent: agent, fn: fn, n: n}
	n.subs = append(n.subs, s)
	return s
}

// Cancel unregisters the subscription. It is safe to call more than once and
// from inside the callback itself.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.n.remove(s.id) })
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every matching subscriber. A panicking subscriber is
// recovered and logged; the remaining subscribers still run.
func (n *Notifier) Publish(rec status.Record) {
	n.mu.RLock()
	snapshot := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		if s.agent == "" || s.agent == rec.Agent {
			snapshot = append(snapshot, s)
		}
	}
	n.mu.RUnlock()

	for _, s := range snapshot {
		n.call(s, rec)
	}
}

// PublishNew publishes rec unless a record with the same or a higher seq was
// already published for the agent through PublishNew. It reports whether
// subscribers were called. A write seen both locally and through the
// filesystem therefore reaches subscribers once.
func (n *Notifier) PublishNew(rec status.Record) bool {
	n.lastMu.Lock()
	if seq, ok := n.last[rec.Agent]; ok && seq >= rec.Seq {
		n.lastMu.Unlock()
		return false
	}
	n.last[rec.Agent] = rec.Seq
	n.lastMu.Unlock()
	n.Publish(rec)
	return true
}

func (n *Notifier) call(s *Subscription, rec status.Record) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("subscriber panicked", "agent", rec.Agent, "status", rec.Status, "panic", r)
		}
	}()
	s.fn(rec)
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
