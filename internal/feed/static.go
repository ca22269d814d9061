package feed

import (
	"context"
	"slices"
	"sync"
)

// Static is an in-memory feed; Push replaces a collection's snapshot.
type Static struct {
	mu        sync.Mutex
	snapshots map[string][]Record
	subs      map[string]map[chan []Record]struct{}
}

// NewStatic creates a Static feed with optional initial snapshots.
func NewStatic(initial map[string][]Record) *Static {
	s := &Static{
		snapshots: make(map[string][]Record),
		subs:      make(map[string]map[chan []Record]struct{}),
	}
	for c, recs := range initial {
		s.snapshots[c] = slices.Clone(recs)
	}
	return s
}

// Subscribe delivers the current snapshot immediately, then every push.
func (s *Static) Subscribe(ctx context.Context, q Query) (<-chan []Record, error) {
	ch := make(chan []Record, 1)

	s.mu.Lock()
	if s.subs[q.Collection] == nil {
		s.subs[q.Collection] = make(map[chan []Record]struct{})
	}
	s.subs[q.Collection][ch] = struct{}{}
	if recs, ok := s.snapshots[q.Collection]; ok {
		offer(ch, slices.Clone(recs))
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[q.Collection], ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// Push replaces the snapshot of collection and notifies subscribers.
func (s *Static) Push(collection string, records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[collection] = slices.Clone(records)
	for ch := range s.subs[collection] {
		offer(ch, slices.Clone(records))
	}
}
