package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sony/gobreaker"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"matchchat/internal/domain/repository"
	"matchchat/internal/observability"
	"matchchat/pkg/errors"
	"matchchat/pkg/logger"
)

type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
}

type firestoreStore struct {
	client  *firestore.Client
	breaker *gobreaker.CircuitBreaker
}

// NewFirestoreStore wraps one-shot calls in a circuit breaker so a failing
// backend surfaces as TRANSPORT_ERROR quickly and callers serve cached data.
func NewFirestoreStore(client *firestore.Client, bs BreakerSettings) repository.DocumentStore {
	if bs.Name == "" {
		bs.Name = "firestore"
	}
	if bs.MaxFailures == 0 {
		bs.MaxFailures = 5
	}
	if bs.Timeout == 0 {
		bs.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        bs.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			switch status.Code(err) {
			case codes.OK, codes.NotFound, codes.AlreadyExists, codes.InvalidArgument,
				codes.FailedPrecondition, codes.Canceled:
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s changed from %s to %s", name, from, to)
			observability.SetBreakerState(name, int(to))
		},
	}

	return &firestoreStore{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *firestoreStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	return s.breaker.Execute(fn)
}

func (s *firestoreStore) Get(ctx context.Context, docPath string) (*repository.Document, error) {
	res, err := s.execute(func() (interface{}, error) {
		return s.client.Doc(docPath).Get(ctx)
	})
	if err != nil {
		return nil, mapError("get", docPath, err)
	}
	return fromSnapshot(res.(*firestore.DocumentSnapshot)), nil
}

func (s *firestoreStore) Set(ctx context.Context, docPath string, data map[string]interface{}, merge bool) error {
	_, err := s.execute(func() (interface{}, error) {
		ref := s.client.Doc(docPath)
		if merge {
			return ref.Set(ctx, toFirestoreMap(data), firestore.MergeAll)
		}
		return ref.Set(ctx, toFirestoreMap(data))
	})
	if err != nil {
		return mapError("set", docPath, err)
	}
	return nil
}

func (s *firestoreStore) Update(ctx context.Context, docPath string, updates []repository.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	_, err := s.execute(func() (interface{}, error) {
		return s.client.Doc(docPath).Update(ctx, toFirestoreUpdates(updates))
	})
	if err != nil {
		return mapError("update", docPath, err)
	}
	return nil
}

func (s *firestoreStore) Query(ctx context.Context, q repository.Query) ([]*repository.Document, error) {
	res, err := s.execute(func() (interface{}, error) {
		iter := s.buildQuery(q).Documents(ctx)
		defer iter.Stop()

		var docs []*repository.Document
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, err
			}
			docs = append(docs, fromSnapshot(snap))
		}
		return docs, nil
	})
	if err != nil {
		return nil, mapError("query", q.Collection, err)
	}
	docs, _ := res.([]*repository.Document)
	return docs, nil
}

func (s *firestoreStore) Batch() repository.WriteBatch {
	return &firestoreBatch{store: s}
}

func (s *firestoreStore) buildQuery(q repository.Query) firestore.Query {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, string(f.Op), f.Value)
	}
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Direction == repository.Desc {
			dir = firestore.Desc
		}
		query = query.OrderBy(o.Field, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

func (s *firestoreStore) ListenQuery(ctx context.Context, q repository.Query, onNext repository.QueryHandler, onError repository.ErrorHandler) func() {
	ctx, cancel := context.WithCancel(ctx)
	it := s.buildQuery(q).Snapshots(ctx)
	l := &listener{cancel: cancel}

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				l.fail(ctx, "listen", q.Collection, err, onError)
				return
			}
			all, err := snap.Documents.GetAll()
			if err != nil {
				l.fail(ctx, "listen", q.Collection, err, onError)
				return
			}
			docs := make([]*repository.Document, 0, len(all))
			for _, d := range all {
				docs = append(docs, fromSnapshot(d))
			}
			if !l.live() {
				return
			}
			onNext(docs)
		}
	}()

	return l.stop
}

func (s *firestoreStore) ListenDoc(ctx context.Context, docPath string, onNext repository.DocumentHandler, onError repository.ErrorHandler) func() {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Doc(docPath).Snapshots(ctx)
	l := &listener{cancel: cancel}

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				l.fail(ctx, "listen", docPath, err, onError)
				return
			}
			if !l.live() {
				return
			}
			if !snap.Exists() {
				onNext(nil)
				continue
			}
			onNext(fromSnapshot(snap))
		}
	}()

	return l.stop
}

type listener struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	once    sync.Once
}

func (l *listener) live() bool {
	return !l.stopped.Load()
}

func (l *listener) stop() {
	l.once.Do(func() {
		l.stopped.Store(true)
		l.cancel()
	})
}

func (l *listener) fail(ctx context.Context, op, path string, err error, onError repository.ErrorHandler) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled || !l.live() {
		return
	}
	l.stop()
	logger.Error("Listener on %s stopped: %v", path, err)
	if onError != nil {
		onError(mapError(op, path, err))
	}
}

// firestoreBatch applies its writes inside one transaction.
type firestoreBatch struct {
	store *firestoreStore
	ops   []func(tx *firestore.Transaction) error
	err   error
}

func (b *firestoreBatch) Create(docPath string, data map[string]interface{}) repository.WriteBatch {
	ref := b.store.client.Doc(docPath)
	converted := toFirestoreMap(data)
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		return tx.Create(ref, converted)
	})
	return b
}

func (b *firestoreBatch) Set(docPath string, data map[string]interface{}, merge bool) repository.WriteBatch {
	ref := b.store.client.Doc(docPath)
	converted := toFirestoreMap(data)
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		if merge {
			return tx.Set(ref, converted, firestore.MergeAll)
		}
		return tx.Set(ref, converted)
	})
	return b
}

func (b *firestoreBatch) Update(docPath string, updates []repository.FieldUpdate) repository.WriteBatch {
	if len(updates) == 0 {
		return b
	}
	ref := b.store.client.Doc(docPath)
	converted := toFirestoreUpdates(updates)
	b.ops = append(b.ops, func(tx *firestore.Transaction) error {
		return tx.Update(ref, converted)
	})
	return b
}

func (b *firestoreBatch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	_, err := b.store.execute(func() (interface{}, error) {
		return nil, b.store.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, op := range b.ops {
				if err := op(tx); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return mapError("commit", "batch", err)
	}
	return nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) *repository.Document {
	return &repository.Document{
		ID:   snap.Ref.ID,
		Path: docPathOf(snap.Ref),
		Data: snap.Data(),
	}
}

// docPathOf strips the "projects/.../documents/" prefix.
func docPathOf(ref *firestore.DocumentRef) string {
	if ref.Parent == nil {
		return ref.ID
	}
	parent := ref.Parent.ID
	if ref.Parent.Parent != nil {
		parent = docPathOf(ref.Parent.Parent) + "/" + parent
	}
	return parent + "/" + ref.ID
}

func toFirestoreUpdates(updates []repository.FieldUpdate) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		out = append(out, firestore.Update{
			FieldPath: firestore.FieldPath(u.Path),
			Value:     toFirestoreValue(u.Value),
		})
	}
	return out
}

func toFirestoreMap(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v interface{}) interface{} {
	switch val := v.(type) {
	case repository.IncrementOp:
		return firestore.Increment(val.By)
	case repository.ArrayUnionOp:
		return firestore.ArrayUnion(val.Elems...)
	case repository.ArrayRemoveOp:
		return firestore.ArrayRemove(val.Elems...)
	case map[string]interface{}:
		return toFirestoreMap(val)
	}
	switch {
	case repository.IsServerTimestamp(v):
		return firestore.ServerTimestamp
	case repository.IsDeleteField(v):
		return firestore.Delete
	}
	return v
}

func mapError(op, path string, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Transport("Document store unavailable", err)
	}

	switch status.Code(err) {
	case codes.NotFound:
		return errors.NotFound(resourceName(path), err)
	case codes.AlreadyExists:
		return errors.Conflict(fmt.Sprintf("Failed to %s %s: document already exists", op, path))
	case codes.InvalidArgument, codes.FailedPrecondition:
		return errors.Internal(fmt.Sprintf("Failed to %s %s", op, path), err)
	}
	return errors.Transport(fmt.Sprintf("Failed to %s %s", op, path), err)
}

func resourceName(path string) string {
	collection, _ := repository.SplitDocPath(path)
	if collection == "" {
		collection = path
	}
	_, last := repository.SplitDocPath(collection)
	switch last {
	case repository.CollectionRooms:
		return "Chat room"
	case repository.CollectionMessages:
		return "Message"
	case repository.CollectionUsers:
		return "User"
	}
	return "Document"
}
