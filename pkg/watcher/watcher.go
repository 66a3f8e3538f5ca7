// Package watcher polls a chain for bridge events and hands them to a handler in order.
//
// Delivery is at-least-once: the cursor only moves after the handler has seen the whole range, so a crash or a
// transient handler failure causes redelivery. Handlers must be idempotent.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/readiness"
	"github.com/majednitol/scai-solana-bridge/pkg/supervisor"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval matches the relayer's historical default of 5000ms.
	DefaultPollInterval = 5 * time.Second
	// DefaultCallTimeout bounds each call to the source.
	DefaultCallTimeout = 10 * time.Second
)

// Source is a chain endpoint that reports its height and the bridge events in a height range.
type Source interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	// Events returns the events of kind with from < height <= to, in emission order.
	Events(ctx context.Context, kind common.EventKind, from, to uint64) ([]*common.BridgeEvent, error)
}

// Handler processes one event. Returning an error wrapped with common.NewTransientError stops the
// current range without advancing the cursor. Any other error is logged and the event is skipped.
type Handler func(ctx context.Context, ev *common.BridgeEvent) error

// CursorStore persists the last processed height per watcher.
type CursorStore interface {
	LoadCursor(name string) (uint64, bool, error)
	StoreCursor(name string, height uint64) error
}

type Config struct {
	// Name identifies the watcher in logs, metrics and the cursor store.
	Name string
	Kind common.EventKind
	// StartHeight is used when no cursor has been stored. Events at StartHeight itself are skipped.
	StartHeight  uint64
	PollInterval time.Duration
	// MaxRange caps the number of heights fetched per poll. Zero means unlimited.
	MaxRange    uint64
	CallTimeout time.Duration
}

type Watcher struct {
	cfg       Config
	source    Source
	handler   Handler
	cursors   CursorStore
	readiness *readiness.Registry

	mu   sync.Mutex
	last uint64
}

func New(cfg Config, source Source, handler Handler, cursors CursorStore, ready *readiness.Registry) (*Watcher, error) {
	if cfg.Name == "" {
		return nil, &common.ConfigError{Field: "watcher.name", Reason: "must not be empty"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}

	last := cfg.StartHeight
	stored, ok, err := cursors.LoadCursor(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor of %s: %w", cfg.Name, err)
	}
	if ok && stored > last {
		last = stored
	}

	w := &Watcher{
		cfg:       cfg,
		source:    source,
		handler:   handler,
		cursors:   cursors,
		readiness: ready,
		last:      last,
	}
	if ready != nil {
		if err := ready.RegisterComponent(w.component()); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) component() readiness.Component {
	return readiness.Component("watcher-" + w.cfg.Name)
}

func (w *Watcher) Name() string {
	return w.cfg.Name
}

// LastProcessedHeight returns the cursor.
func (w *Watcher) LastProcessedHeight() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run polls until ctx is cancelled. It is meant to be started as a supervisor runnable.
func (w *Watcher) Run(ctx context.Context) error {
	logger := supervisor.Logger(ctx).With(zap.String("watcher", w.cfg.Name), zap.String("kind", string(w.cfg.Kind)))
	logger.Info("starting watcher",
		zap.Uint64("last_processed_height", w.LastProcessedHeight()),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	supervisor.Signal(ctx, supervisor.SignalHealthy)

	t := time.NewTicker(w.cfg.PollInterval)
	defer t.Stop()

	for {
		if err := w.Poll(ctx, logger); err != nil && ctx.Err() == nil {
			logger.Error("poll failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Poll performs one iteration: read the height, deliver the new range and advance the cursor.
func (w *Watcher) Poll(ctx context.Context, logger *zap.Logger) error {
	pollsTotal.WithLabelValues(w.cfg.Name).Inc()

	timeout, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	current, err := w.source.CurrentHeight(timeout)
	cancel()
	if err != nil {
		pollErrors.WithLabelValues(w.cfg.Name, "height").Inc()
		return fmt.Errorf("failed to read current height: %w", err)
	}
	currentHeight.WithLabelValues(w.cfg.Name).Set(float64(current))

	last := w.LastProcessedHeight()
	if current <= last {
		w.setReady()
		return nil
	}

	to := current
	if w.cfg.MaxRange > 0 && to-last > w.cfg.MaxRange {
		to = last + w.cfg.MaxRange
	}

	timeout, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
	events, err := w.source.Events(timeout, w.cfg.Kind, last, to)
	cancel()
	if err != nil {
		pollErrors.WithLabelValues(w.cfg.Name, "events").Inc()
		return fmt.Errorf("failed to fetch events (%d, %d]: %w", last, to, err)
	}

	for _, ev := range events {
		if err := w.handler(ctx, ev); err != nil {
			if common.IsTransient(err) || ctx.Err() != nil {
				handlerErrors.WithLabelValues(w.cfg.Name, "transient").Inc()
				return fmt.Errorf("event %s at height %d will be redelivered: %w", ev.OrderID, ev.Height, err)
			}
			handlerErrors.WithLabelValues(w.cfg.Name, "terminal").Inc()
			logger.Error("failed to handle event, skipping",
				zap.Stringer("order_id", ev.OrderID),
				zap.Uint64("height", ev.Height),
				zap.Error(err))
			continue
		}
		eventsProcessed.WithLabelValues(w.cfg.Name).Inc()
	}

	if err := w.cursors.StoreCursor(w.cfg.Name, to); err != nil {
		// The in-memory cursor still advances. After a restart the range is redelivered.
		pollErrors.WithLabelValues(w.cfg.Name, "cursor").Inc()
		logger.Error("failed to persist cursor", zap.Uint64("height", to), zap.Error(err))
	}

	w.mu.Lock()
	w.last = to
	w.mu.Unlock()
	lastProcessedHeight.WithLabelValues(w.cfg.Name).Set(float64(to))

	if to == current {
		w.setReady()
	}
	logger.Debug("processed range", zap.Uint64("from", last), zap.Uint64("to", to), zap.Int("events", len(events)))
	return nil
}

func (w *Watcher) setReady() {
	if w.readiness != nil {
		w.readiness.SetReady(w.component())
	}
}

// MemoryCursorStore keeps cursors in memory only.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]uint64)}
}

func (s *MemoryCursorStore) LoadCursor(name string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.cursors[name]
	return h, ok, nil
}

func (s *MemoryCursorStore) StoreCursor(name string, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = height
	return nil
}
