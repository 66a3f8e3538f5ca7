package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/majednitol/scai-solana-bridge/pkg/common"
)

// EventLog is the append-only event history of an in-process bridge. Every state change is one block:
// it increments the height and stamps its events with it.
type EventLog struct {
	mu     sync.RWMutex
	height uint64
	events []*common.BridgeEvent
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

// commit appends events as a new block and returns its height.
func (l *EventLog) commit(events ...*common.BridgeEvent) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.height++
	for i, e := range events {
		e.Height = l.height
		e.Index = uint32(i) // #nosec G115 -- a block holds a handful of events
		l.events = append(l.events, e)
	}
	return l.height
}

func (l *EventLog) CurrentHeight(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height, nil
}

// Events returns copies of the events of the given kind with from < height <= to, in emission order.
func (l *EventLog) Events(ctx context.Context, kind common.EventKind, from, to uint64) ([]*common.BridgeEvent, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range (%d, %d]", from, to)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.events), func(i int) bool { return l.events[i].Height > from })
	var out []*common.BridgeEvent
	for _, e := range l.events[start:] {
		if e.Height > to {
			break
		}
		if e.Kind != kind {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}
