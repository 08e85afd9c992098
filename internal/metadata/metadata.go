// Package metadata implements the MetadataCoordinator: a concurrency-safe
// cache of per-paper metadata readiness, with a wake-on-write fast path and
// a fixed-interval poll fallback for waitAllReady.
package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/paperpilot/orchestrator/internal/apperrors"
)

// PaperRecord is the enrichment payload the extractor hands back.
type PaperRecord struct {
	PaperID    string                 `json:"paperId"`
	Fields     map[string]interface{} `json:"fields"`
	Processing bool                   `json:"processing"`
}

// Coordinator is the shared cache the BatchOrganizer and the extractor
// handler both read and write.
type Coordinator struct {
	mu      sync.RWMutex
	records map[string]PaperRecord

	signalMu sync.Mutex
	signals  map[string][]chan struct{}

	pollInterval time.Duration
}

// Config tunes waitAllReady's polling cadence.
type Config struct {
	PollInterval time.Duration
}

// New builds an empty Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	return &Coordinator{
		records:      make(map[string]PaperRecord),
		signals:      make(map[string][]chan struct{}),
		pollInterval: cfg.PollInterval,
	}
}

// Lookup returns the cached record for paperID, if any.
func (c *Coordinator) Lookup(paperID string) (PaperRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[paperID]
	return rec, ok
}

// Store replaces any existing entry for rec.PaperID.
func (c *Coordinator) Store(rec PaperRecord) {
	c.mu.Lock()
	c.records[rec.PaperID] = rec
	c.mu.Unlock()
	c.wake(rec.PaperID)
}

// IsReady reports whether paperID has a cached record with Processing == false.
func (c *Coordinator) IsReady(paperID string) bool {
	rec, ok := c.Lookup(paperID)
	return ok && !rec.Processing
}

// OnPreprocessingCompleted is the only path that can flip a paper to ready;
// it is invoked by the extractor handler (in-process) or by the HTTP
// control surface on the remote extractor's behalf.
func (c *Coordinator) OnPreprocessingCompleted(rec PaperRecord) {
	rec.Processing = false
	c.Store(rec)
}

func (c *Coordinator) wake(paperID string) {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()
	for _, ch := range c.signals[paperID] {
		close(ch)
	}
	delete(c.signals, paperID)
}

func (c *Coordinator) subscribe(paperID string) chan struct{} {
	ch := make(chan struct{})
	c.signalMu.Lock()
	c.signals[paperID] = append(c.signals[paperID], ch)
	c.signalMu.Unlock()
	return ch
}

// unsubscribe removes ch from paperID's subscriber list. A no-op if wake
// already removed it (the id was stored and the whole list was cleared).
func (c *Coordinator) unsubscribe(paperID string, ch chan struct{}) {
	c.signalMu.Lock()
	defer c.signalMu.Unlock()
	subs := c.signals[paperID]
	for i, s := range subs {
		if s == ch {
			c.signals[paperID] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(c.signals[paperID]) == 0 {
		delete(c.signals, paperID)
	}
}

// WaitAllReady blocks until every id in ids is ready, or timeout elapses.
// It wakes promptly on a Store call for any outstanding id, falling back to
// a fixed-interval poll so an out-of-process caller (one that can only
// reach the coordinator through the HTTP control surface) is still
// eventually observed. Every subscription made during a round is retired
// at the end of that round, whether or not it fired, so an id that never
// becomes ready does not leak a goroutine or a signals-map entry past the
// call that waited on it.
func (c *Coordinator) WaitAllReady(ctx context.Context, ids []string, timeout time.Duration) (map[string]PaperRecord, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		ready, remaining := c.snapshotReady(ids)
		if len(remaining) == 0 {
			return ready, nil
		}
		if time.Now().After(deadline) {
			return nil, apperrors.New(apperrors.KindTimeout, "waitAllReady timed out")
		}

		if err := c.waitOneRound(ctx, remaining, deadline, ticker); err != nil {
			return nil, err
		}
	}
}

// waitOneRound subscribes to every remaining id, blocks until one wakes, the
// ticker fires, the deadline passes, or ctx is cancelled, then unsubscribes
// everything it registered before returning. A non-nil error means ctx was
// cancelled and the caller should stop waiting altogether.
func (c *Coordinator) waitOneRound(ctx context.Context, remaining []string, deadline time.Time, ticker *time.Ticker) error {
	wake := make(chan struct{}, 1)
	roundDone := make(chan struct{})
	chans := make(map[string]chan struct{}, len(remaining))
	var wg sync.WaitGroup

	for _, id := range remaining {
		ch := c.subscribe(id)
		chans[id] = ch
		wg.Add(1)
		go func(ch chan struct{}) {
			defer wg.Done()
			select {
			case <-ch:
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-roundDone:
			}
		}(ch)
	}

	defer func() {
		close(roundDone)
		for id, ch := range chans {
			c.unsubscribe(id, ch)
		}
		wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.KindTimeout, "waitAllReady cancelled", ctx.Err())
	case <-wake:
	case <-ticker.C:
	case <-time.After(time.Until(deadline)):
	}
	return nil
}

func (c *Coordinator) snapshotReady(ids []string) (map[string]PaperRecord, []string) {
	ready := make(map[string]PaperRecord)
	var remaining []string
	for _, id := range ids {
		if rec, ok := c.Lookup(id); ok && !rec.Processing {
			ready[id] = rec
		} else {
			remaining = append(remaining, id)
		}
	}
	return ready, remaining
}
