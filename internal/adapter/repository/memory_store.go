package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"matchchat/internal/domain/repository"
	"matchchat/pkg/errors"
)

// Fault names a MemoryStore operation that can be forced to fail.
type Fault string

const (
	FaultGet    Fault = "get"
	FaultSet    Fault = "set"
	FaultUpdate Fault = "update"
	FaultQuery  Fault = "query"
	FaultCommit Fault = "commit"
)

// MemoryStore is an in-process DocumentStore with Firestore-like semantics.
// It backs local development, the chatctl CLI and the engine tests.
type MemoryStore struct {
	clock clock.Clock

	mu        sync.RWMutex
	docs      map[string]map[string]interface{}
	faults    map[Fault]error
	listeners map[uint64]*memListener
	nextID    uint64
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:     clk,
		docs:      make(map[string]map[string]interface{}),
		faults:    make(map[Fault]error),
		listeners: make(map[uint64]*memListener),
	}
}

var _ repository.DocumentStore = (*MemoryStore)(nil)

// InjectFault makes every following call of op fail with err. A nil err clears it.
func (s *MemoryStore) InjectFault(op Fault, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// BreakListeners fails every open listener with err, as a dropped connection would.
func (s *MemoryStore) BreakListeners(err error) {
	s.mu.RLock()
	open := make([]*memListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		open = append(open, l)
	}
	s.mu.RUnlock()

	for _, l := range open {
		l.failWith(errors.Transport("Listener connection lost", err))
	}
}

func (s *MemoryStore) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

func (s *MemoryStore) fault(op Fault) error {
	if err, ok := s.faults[op]; ok {
		return errors.Transport("Injected "+string(op)+" failure", err)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, docPath string) (*repository.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(FaultGet); err != nil {
		return nil, err
	}
	data, ok := s.docs[docPath]
	if !ok {
		return nil, errors.NotFound(resourceName(docPath), nil)
	}
	return newDocument(docPath, data), nil
}

func (s *MemoryStore) Set(ctx context.Context, docPath string, data map[string]interface{}, merge bool) error {
	s.mu.Lock()
	if err := s.fault(FaultSet); err != nil {
		s.mu.Unlock()
		return err
	}
	s.docs[docPath] = applySet(s.docs[docPath], data, merge, s.clock.Now().UTC())
	s.mu.Unlock()

	s.notifyAll()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, docPath string, updates []repository.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	if err := s.fault(FaultUpdate); err != nil {
		s.mu.Unlock()
		return err
	}
	existing, ok := s.docs[docPath]
	if !ok {
		s.mu.Unlock()
		return errors.NotFound(resourceName(docPath), nil)
	}
	s.docs[docPath] = applyUpdate(existing, updates, s.clock.Now().UTC())
	s.mu.Unlock()

	s.notifyAll()
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q repository.Query) ([]*repository.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(FaultQuery); err != nil {
		return nil, err
	}
	return s.evalQuery(q), nil
}

func (s *MemoryStore) Batch() repository.WriteBatch {
	return &memoryBatch{store: s}
}

func (s *MemoryStore) ListenQuery(ctx context.Context, q repository.Query, onNext repository.QueryHandler, onError repository.ErrorHandler) func() {
	return s.listen(ctx, func() interface{} {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.evalQuery(q)
	}, func(v interface{}) {
		onNext(v.([]*repository.Document))
	}, onError)
}

func (s *MemoryStore) ListenDoc(ctx context.Context, docPath string, onNext repository.DocumentHandler, onError repository.ErrorHandler) func() {
	return s.listen(ctx, func() interface{} {
		s.mu.RLock()
		defer s.mu.RUnlock()
		data, ok := s.docs[docPath]
		if !ok {
			return (*repository.Document)(nil)
		}
		return newDocument(docPath, data)
	}, func(v interface{}) {
		onNext(v.(*repository.Document))
	}, onError)
}

func (s *MemoryStore) listen(ctx context.Context, snapshot func() interface{}, deliver func(interface{}), onError repository.ErrorHandler) func() {
	s.mu.Lock()
	s.nextID++
	l := &memListener{
		id:     s.nextID,
		store:  s,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.listeners[l.id] = l
	s.mu.Unlock()

	l.signal()
	go l.run(ctx, snapshot, deliver, onError)
	return l.stop
}

func (s *MemoryStore) notifyAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.listeners {
		l.signal()
	}
}

func (s *MemoryStore) removeListener(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

// evalQuery must be called with s.mu held.
func (s *MemoryStore) evalQuery(q repository.Query) []*repository.Document {
	var docs []*repository.Document
	for path, data := range s.docs {
		collection, _ := repository.SplitDocPath(path)
		if collection != q.Collection {
			continue
		}
		if !matchesAll(data, q.Filters) || !hasOrderFields(data, q.Orders) {
			continue
		}
		docs = append(docs, newDocument(path, data))
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return lessByOrders(docs[i], docs[j], q.Orders)
	})

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

type memListener struct {
	id     uint64
	store  *MemoryStore
	notify chan struct{}
	done   chan struct{}

	stopped atomic.Bool
	once    sync.Once

	failMu  sync.Mutex
	failure error
}

func (l *memListener) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *memListener) failWith(err error) {
	l.failMu.Lock()
	l.failure = err
	l.failMu.Unlock()
	l.signal()
}

func (l *memListener) takeFailure() error {
	l.failMu.Lock()
	defer l.failMu.Unlock()
	err := l.failure
	l.failure = nil
	return err
}

func (l *memListener) stop() {
	l.once.Do(func() {
		l.stopped.Store(true)
		close(l.done)
		l.store.removeListener(l.id)
	})
}

func (l *memListener) run(ctx context.Context, snapshot func() interface{}, deliver func(interface{}), onError repository.ErrorHandler) {
	var last interface{}
	delivered := false
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			l.stop()
			return
		case <-l.notify:
		}

		if err := l.takeFailure(); err != nil {
			if l.stopped.Load() {
				return
			}
			l.stop()
			if onError != nil {
				onError(err)
			}
			return
		}

		current := snapshot()
		if delivered && sameSnapshot(last, current) {
			continue
		}
		if l.stopped.Load() {
			return
		}
		last, delivered = current, true
		deliver(current)
	}
}

func sameSnapshot(a, b interface{}) bool {
	switch av := a.(type) {
	case []*repository.Document:
		bv, ok := b.([]*repository.Document)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Path != bv[i].Path || !reflect.DeepEqual(av[i].Data, bv[i].Data) {
				return false
			}
		}
		return true
	case *repository.Document:
		bv, ok := b.(*repository.Document)
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			return av == bv
		}
		return av.Path == bv.Path && reflect.DeepEqual(av.Data, bv.Data)
	}
	return false
}

type memoryOp struct {
	path    string
	data    map[string]interface{}
	merge   bool
	updates []repository.FieldUpdate
	update  bool
	create  bool
}

type memoryBatch struct {
	store *MemoryStore
	ops   []memoryOp
}

func (b *memoryBatch) Create(docPath string, data map[string]interface{}) repository.WriteBatch {
	b.ops = append(b.ops, memoryOp{path: docPath, data: data, create: true})
	return b
}

func (b *memoryBatch) Set(docPath string, data map[string]interface{}, merge bool) repository.WriteBatch {
	b.ops = append(b.ops, memoryOp{path: docPath, data: data, merge: merge})
	return b
}

func (b *memoryBatch) Update(docPath string, updates []repository.FieldUpdate) repository.WriteBatch {
	if len(updates) > 0 {
		b.ops = append(b.ops, memoryOp{path: docPath, updates: updates, update: true})
	}
	return b
}

// Commit stages every write against copies and swaps them in only when all succeed.
func (b *memoryBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	s := b.store
	s.mu.Lock()
	if err := s.fault(FaultCommit); err != nil {
		s.mu.Unlock()
		return err
	}

	now := s.clock.Now().UTC()
	staged := make(map[string]map[string]interface{})
	current := func(path string) map[string]interface{} {
		if data, ok := staged[path]; ok {
			return data
		}
		return s.docs[path]
	}

	for _, op := range b.ops {
		existing := current(op.path)
		if op.update {
			if existing == nil {
				s.mu.Unlock()
				return errors.NotFound(resourceName(op.path), nil)
			}
			staged[op.path] = applyUpdate(existing, op.updates, now)
			continue
		}
		if op.create && existing != nil {
			s.mu.Unlock()
			return errors.Conflict(fmt.Sprintf("%s %s already exists", resourceName(op.path), op.path))
		}
		staged[op.path] = applySet(existing, op.data, op.merge, now)
	}

	for path, data := range staged {
		s.docs[path] = data
	}
	s.mu.Unlock()

	s.notifyAll()
	return nil
}

func newDocument(path string, data map[string]interface{}) *repository.Document {
	_, id := repository.SplitDocPath(path)
	return &repository.Document{ID: id, Path: path, Data: copyMap(data)}
}

func applySet(existing, data map[string]interface{}, merge bool, now time.Time) map[string]interface{} {
	out := map[string]interface{}{}
	if merge && existing != nil {
		out = copyMap(existing)
	}
	mergeInto(out, data, now)
	return out
}

func applyUpdate(existing map[string]interface{}, updates []repository.FieldUpdate, now time.Time) map[string]interface{} {
	out := copyMap(existing)
	for _, u := range updates {
		if len(u.Path) == 0 {
			continue
		}
		node := out
		for _, seg := range u.Path[:len(u.Path)-1] {
			child, ok := node[seg].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[seg] = child
			}
			node = child
		}
		last := u.Path[len(u.Path)-1]
		if repository.IsDeleteField(u.Value) {
			delete(node, last)
			continue
		}
		node[last] = resolve(node[last], u.Value, now)
	}
	return out
}

func mergeInto(dst, src map[string]interface{}, now time.Time) {
	for k, v := range src {
		if repository.IsDeleteField(v) {
			delete(dst, k)
			continue
		}
		if m, ok := asMap(v); ok {
			child, ok := dst[k].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				dst[k] = child
			}
			mergeInto(child, m, now)
			continue
		}
		dst[k] = resolve(dst[k], v, now)
	}
}

// resolve applies a field transform against the current value, or normalizes a plain value.
func resolve(current, v interface{}, now time.Time) interface{} {
	switch op := v.(type) {
	case repository.IncrementOp:
		switch n := current.(type) {
		case int64:
			return n + op.By
		case float64:
			return n + float64(op.By)
		}
		return op.By
	case repository.ArrayUnionOp:
		arr, _ := current.([]interface{})
		out := append([]interface{}(nil), arr...)
		for _, e := range op.Elems {
			e = normalize(e, now)
			if !containsValue(out, e) {
				out = append(out, e)
			}
		}
		return out
	case repository.ArrayRemoveOp:
		arr, _ := current.([]interface{})
		out := make([]interface{}, 0, len(arr))
		for _, e := range arr {
			if !containsValue(normalizeSlice(op.Elems, now), e) {
				out = append(out, e)
			}
		}
		return out
	}
	if repository.IsServerTimestamp(v) {
		return now
	}
	return normalize(v, now)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// normalize converts Go values to the shapes Firestore returns on read.
func normalize(v interface{}, now time.Time) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int8:
		return int64(val)
	case uint32:
		return int64(val)
	case uint16:
		return int64(val)
	case uint8:
		return int64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC()
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC()
	case []interface{}:
		return normalizeSlice(val, now)
	}
	if repository.IsServerTimestamp(v) {
		return now
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]interface{}, len(m))
		for k, e := range m {
			if repository.IsDeleteField(e) {
				continue
			}
			out[k] = resolve(nil, e, now)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalize(rv.Index(i).Interface(), now)
		}
		return out
	}
	return v
}

func normalizeSlice(in []interface{}, now time.Time) []interface{} {
	out := make([]interface{}, len(in))
	for i, e := range in {
		out[i] = normalize(e, now)
	}
	return out
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, e := range list {
		if valuesEqual(e, v) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same kind; ok is false when they
// are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1, true
			case av.After(bv):
				return 1, true
			}
			return 0, true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func fieldValue(data map[string]interface{}, field string) (interface{}, bool) {
	var cur interface{} = data
	for _, seg := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchesAll(data map[string]interface{}, filters []repository.Filter) bool {
	for _, f := range filters {
		if !matches(data, f) {
			return false
		}
	}
	return true
}

func matches(data map[string]interface{}, f repository.Filter) bool {
	v, ok := fieldValue(data, f.Field)
	if !ok {
		return false
	}
	want := normalize(f.Value, time.Time{})

	switch f.Op {
	case repository.OpEqual:
		return valuesEqual(v, want)
	case repository.OpNotEqual:
		return !valuesEqual(v, want)
	case repository.OpArrayContains:
		arr, ok := v.([]interface{})
		return ok && containsValue(arr, want)
	case repository.OpIn:
		options, ok := want.([]interface{})
		return ok && containsValue(options, v)
	}

	c, ok := compareValues(v, want)
	if !ok {
		return false
	}
	switch f.Op {
	case repository.OpLess:
		return c < 0
	case repository.OpLessOrEqual:
		return c <= 0
	case repository.OpGreater:
		return c > 0
	case repository.OpGreaterOrEqual:
		return c >= 0
	}
	return false
}

func hasOrderFields(data map[string]interface{}, orders []repository.Order) bool {
	for _, o := range orders {
		if v, ok := fieldValue(data, o.Field); !ok || v == nil {
			return false
		}
	}
	return true
}

// lessByOrders falls back to the document id in the direction of the last order.
func lessByOrders(a, b *repository.Document, orders []repository.Order) bool {
	for _, o := range orders {
		av, _ := fieldValue(a.Data, o.Field)
		bv, _ := fieldValue(b.Data, o.Field)
		c, ok := compareValues(av, bv)
		if !ok || c == 0 {
			continue
		}
		if o.Direction == repository.Desc {
			return c > 0
		}
		return c < 0
	}
	if len(orders) > 0 && orders[len(orders)-1].Direction == repository.Desc {
		return a.ID > b.ID
	}
	return a.ID < b.ID
}
