package docstore

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same snapshot-push semantics as
// PostgresStore, used by the service-level tests.
type MemStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
	subs        map[int64]*memSub
	nextID      int64
	closed      bool
	clock       func() int64
}

type memSub struct {
	collection string
	deliver    func(Snapshot)
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string]map[string]Document),
		subs:        make(map[int64]*memSub),
		clock:       func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the server clock used for ServerTimestamp resolution.
func (s *MemStore) SetClock(fn func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = fn
}

func (s *MemStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemStore) Set(_ context.Context, collection, id string, doc Document) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]Document)
		s.collections[collection] = col
	}
	col[id] = cloneDocument(resolveTimestamps(doc, s.clock()))
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemStore) Merge(_ context.Context, collection, id string, fields Document) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	// Merge keeps explicit nulls: a nil field value overwrites the prior one.
	for k, v := range cloneDocument(resolveTimestamps(fields, s.clock())) {
		doc[k] = v
	}
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *MemStore) GetCollection(_ context.Context, collection string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(collection), nil
}

func (s *MemStore) QueryByField(_ context.Context, collection, field, value string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{}
	for id, doc := range s.collections[collection] {
		if str, ok := doc[field].(string); ok && str == value {
			out[id] = cloneDocument(doc)
		}
	}
	return out, nil
}

func (s *MemStore) ListCollections(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, col := range s.collections {
		if len(col) == 0 {
			continue
		}
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *MemStore) RunBatch(_ context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	now := s.clock()
	touched := map[string]bool{}
	for _, op := range ops {
		switch op.Kind {
		case BatchSet:
			col, ok := s.collections[op.Collection]
			if !ok {
				col = make(map[string]Document)
				s.collections[op.Collection] = col
			}
			col[op.ID] = cloneDocument(resolveTimestamps(op.Doc, now))
		case BatchDelete:
			delete(s.collections[op.Collection], op.ID)
		}
		touched[op.Collection] = true
	}
	s.mu.Unlock()

	for collection := range touched {
		s.notify(collection)
	}
	return nil
}

func (s *MemStore) SubscribeCollection(collection string, cb func(Snapshot)) (func(), error) {
	return s.subscribe(collection, cb)
}

func (s *MemStore) SubscribeDoc(collection, id string, cb func(Document, bool)) (func(), error) {
	return s.subscribe(collection, func(snap Snapshot) {
		doc, ok := snap[id]
		cb(doc, ok)
	})
}

func (s *MemStore) subscribe(collection string, deliver func(Snapshot)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextID++
	id := s.nextID
	s.subs[id] = &memSub{collection: collection, deliver: deliver}
	initial := s.snapshotLocked(collection)
	s.mu.Unlock()

	deliver(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int64]*memSub)
	return nil
}

// notify synchronously pushes the current snapshot to every subscriber of the
// collection. Synchronous delivery keeps test assertions simple and mirrors
// the eventual behavior of the LISTEN/NOTIFY path.
func (s *MemStore) notify(collection string) {
	s.mu.Lock()
	snap := s.snapshotLocked(collection)
	var targets []*memSub
	for _, sub := range s.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(snap)
	}
}

func (s *MemStore) snapshotLocked(collection string) Snapshot {
	snap := Snapshot{}
	for id, doc := range s.collections[collection] {
		snap[id] = cloneDocument(doc)
	}
	return snap
}
