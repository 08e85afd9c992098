// Package notify implements the NotificationBus: a best-effort, in-process
// fan-out of named batch lifecycle events, with an optional NATS remote leg.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/paperpilot/orchestrator/internal/natsctx"
)

// Event is one published notification.
type Event struct {
	Name      string      `json:"name"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Subscriber receives events for the names it was registered under.
type Subscriber func(Event)

// Bus fans out published events to in-process subscribers and, when a NATS
// connection is configured, to a remote subject as well.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Subscriber

	nc  *nats.Conn
	log *slog.Logger
}

// New builds a Bus with no remote leg configured.
func New(log *slog.Logger) *Bus {
	return &Bus{subscribers: make(map[string][]Subscriber), log: log}
}

// WithRemote attaches a NATS connection used for the optional fan-out leg.
// Passing nil disables the remote leg (the default).
func (b *Bus) WithRemote(nc *nats.Conn) *Bus {
	b.nc = nc
	return b
}

// Subscribe registers fn for every event named in names.
func (b *Bus) Subscribe(fn Subscriber, names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.subscribers[name] = append(b.subscribers[name], fn)
	}
}

// Publish delivers event to every in-process subscriber for event.Name,
// never blocking the caller on a slow or panicking subscriber, and
// additionally publishes to NATS when a remote connection is configured.
func (b *Bus) Publish(ctx context.Context, name string, payload interface{}) {
	event := Event{Name: name, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[name]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		go b.deliver(sub, event)
	}

	if b.nc != nil {
		go b.publishRemote(ctx, event)
	}
}

func (b *Bus) deliver(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("notification subscriber panicked", "event", event.Name, "panic", r)
		}
	}()
	sub(event)
}

func (b *Bus) publishRemote(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Warn("notification remote marshal failed", "event", event.Name, "error", err)
		return
	}
	subject := fmt.Sprintf("paperpilot.events.%s", event.Name)
	if err := natsctx.Publish(ctx, b.nc, subject, data); err != nil {
		b.log.Warn("notification remote publish failed", "event", event.Name, "error", err)
	}
}
