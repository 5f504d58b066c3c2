// Package memory implements storage.Port as an in-process, mutex-protected
// map store, for tests and local development. Change-stream delivery is
// backed purely by the in-process broadcast bus — there is no other
// process to fan out to.
package memory

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/rustyops/pkg/messaging/bus"
	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
	"github.com/codeready-toolchain/rustyops/pkg/storage"
	"github.com/google/uuid"
)

// Store is a single in-memory index set: one map[string]Document per
// storage.Index, all protected by one RWMutex (mirroring the single-mutex
// shape of a reference in-memory store rather than a lock per index, since
// the workload here is orders of magnitude smaller than a production
// service).
type Store struct {
	mu   sync.RWMutex
	data map[storage.Index]map[string]storage.Document
	bus  *bus.Bus
}

// New constructs an empty Store. b may be nil, in which case the process-
// wide default bus is used.
func New(b *bus.Bus) *Store {
	if b == nil {
		b = bus.Default()
	}
	return &Store{data: make(map[storage.Index]map[string]storage.Document), bus: b}
}

func (s *Store) index(idx storage.Index) map[string]storage.Document {
	if s.data[idx] == nil {
		s.data[idx] = make(map[string]storage.Document)
	}
	return s.data[idx]
}

func (s *Store) GetAll(_ context.Context, index storage.Index, filter queryfilter.Filter, opts *queryfilter.SearchOptions) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]storage.Document, 0)
	for _, doc := range s.index(index) {
		if queryfilter.Match(filter, doc) {
			matched = append(matched, cloneDoc(doc))
		}
	}

	effective := queryfilter.DefaultSearchOptions()
	if opts != nil {
		effective = *opts
	}
	queryfilter.Sort(matched, effective)
	return queryfilter.Paginate(matched, effective), nil
}

func (s *Store) GetOne(ctx context.Context, index storage.Index, filter queryfilter.Filter) (storage.Document, bool, error) {
	all, err := s.GetAll(ctx, index, filter, &queryfilter.SearchOptions{PageNumber: 1, PageSize: 2})
	if err != nil {
		return nil, false, err
	}
	if len(all) != 1 {
		return nil, false, nil
	}
	return all[0], true, nil
}

func (s *Store) Create(_ context.Context, index storage.Index, item storage.Document) (string, error) {
	s.mu.Lock()
	id, _ := item["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	doc := cloneDoc(item)
	doc["id"] = id
	s.index(index)[id] = doc
	s.mu.Unlock()

	s.bus.Publish(storage.ChangeEvent{Index: index, Op: storage.ChangeCreate, ID: id, Item: doc})
	return id, nil
}

func (s *Store) Update(_ context.Context, index storage.Index, id string, item storage.Document) (string, error) {
	s.mu.Lock()
	doc := cloneDoc(item)
	doc["id"] = id
	s.index(index)[id] = doc
	s.mu.Unlock()

	s.bus.Publish(storage.ChangeEvent{Index: index, Op: storage.ChangeUpdate, ID: id, Item: doc})
	return id, nil
}

// UpdateConditional performs an Update only if the stored record matches
// where, holding the store's write lock across that check and the write so the
// two can never interleave with a concurrent writer — the in-memory
// counterpart to postgres.Store.UpdateConditional's SELECT ... FOR UPDATE.
func (s *Store) UpdateConditional(_ context.Context, index storage.Index, id string, where queryfilter.Filter, item storage.Document) (bool, error) {
	s.mu.Lock()
	bucket := s.index(index)
	current, ok := bucket[id]
	if !ok || !queryfilter.Match(where, current) {
		s.mu.Unlock()
		return false, nil
	}
	doc := cloneDoc(item)
	doc["id"] = id
	bucket[id] = doc
	s.mu.Unlock()

	s.bus.Publish(storage.ChangeEvent{Index: index, Op: storage.ChangeUpdate, ID: id, Item: doc})
	return true, nil
}

func (s *Store) Append(_ context.Context, index storage.Index, id string, entry any) error {
	s.mu.Lock()
	bucket := s.index(index)
	doc, ok := bucket[id]
	if !ok {
		doc = storage.Document{"id": id, "entries": []any{}}
	}
	entries, _ := doc["entries"].([]any)
	entries = append(entries, entry)
	doc["entries"] = entries
	bucket[id] = doc
	out := cloneDoc(doc)
	s.mu.Unlock()

	s.bus.Publish(storage.ChangeEvent{Index: index, Op: storage.ChangeAppend, ID: id, Item: out})
	return nil
}

func (s *Store) DeleteOne(_ context.Context, index storage.Index, filter queryfilter.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.index(index)
	for id, doc := range bucket {
		if queryfilter.Match(filter, doc) {
			delete(bucket, id)
			return 1, nil
		}
	}
	return 0, nil
}

func (s *Store) DeleteMany(_ context.Context, index storage.Index, filter queryfilter.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.index(index)
	count := 0
	for id, doc := range bucket {
		if queryfilter.Match(filter, doc) {
			delete(bucket, id)
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteAll(_ context.Context, index storage.Index) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.index(index))
	s.data[index] = make(map[string]storage.Document)
	return count, nil
}

func (s *Store) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[storage.Index]map[string]storage.Document)
	return nil
}

func (s *Store) ChangeStream(ctx context.Context, index storage.Index) (<-chan storage.ChangeEvent, func(), error) {
	raw, unsubscribe := s.bus.Subscribe()
	out := make(chan storage.ChangeEvent, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-raw:
				if !ok {
					return
				}
				ce, ok := event.(storage.ChangeEvent)
				if !ok || ce.Index != index {
					continue
				}
				select {
				case out <- ce:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, unsubscribe, nil
}

func (s *Store) Close() error { return nil }

func cloneDoc(doc storage.Document) storage.Document {
	out := make(storage.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

var _ storage.Port = (*Store)(nil)
