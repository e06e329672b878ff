package repository

import (
	"context"
	"strings"
)

// Collection names.
const (
	CollectionRooms    = "chatRooms"
	CollectionMessages = "messages"
	CollectionUsers    = "users"
)

func RoomPath(roomID string) string {
	return CollectionRooms + "/" + roomID
}

func MessagesPath(roomID string) string {
	return RoomPath(roomID) + "/" + CollectionMessages
}

func MessagePath(roomID, messageID string) string {
	return MessagesPath(roomID) + "/" + messageID
}

func UserPath(userID string) string {
	return CollectionUsers + "/" + userID
}

// SplitDocPath returns the parent collection path and the document id.
func SplitDocPath(docPath string) (collection, id string) {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return "", docPath
	}
	return docPath[:i], docPath[i+1:]
}

// Document is a snapshot of one stored document. Server timestamps are
// already resolved to time.Time.
type Document struct {
	ID   string
	Path string
	Data map[string]interface{}
}

// FieldUpdate sets a single (possibly nested) field. Path segments are
// taken literally, so user ids containing dots are safe.
type FieldUpdate struct {
	Path  []string
	Value interface{}
}

func UpdateField(value interface{}, path ...string) FieldUpdate {
	return FieldUpdate{Path: path, Value: value}
}

type Op string

const (
	OpEqual          Op = "=="
	OpNotEqual       Op = "!="
	OpLess           Op = "<"
	OpLessOrEqual    Op = "<="
	OpGreater        Op = ">"
	OpGreaterOrEqual Op = ">="
	OpArrayContains  Op = "array-contains"
	OpIn             Op = "in"
)

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

type Order struct {
	Field     string
	Direction Direction
}

// Query selects documents from one collection. Documents missing an
// ordered-by field are excluded, matching Firestore.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, op Op, value interface{}) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) OrderBy(field string, dir Direction) Query {
	q.Orders = append(append([]Order(nil), q.Orders...), Order{Field: field, Direction: dir})
	return q
}

func (q Query) LimitTo(n int) Query {
	q.Limit = n
	return q
}

// Field transforms understood by every DocumentStore.

type serverTimestamp struct{}

type deleteField struct{}

// ServerTimestamp is replaced by the store's commit time.
var ServerTimestamp = serverTimestamp{}

// DeleteField removes the field.
var DeleteField = deleteField{}

type IncrementOp struct {
	By int64
}

func Increment(n int64) IncrementOp {
	return IncrementOp{By: n}
}

type ArrayUnionOp struct {
	Elems []interface{}
}

func ArrayUnion(elems ...interface{}) ArrayUnionOp {
	return ArrayUnionOp{Elems: elems}
}

type ArrayRemoveOp struct {
	Elems []interface{}
}

func ArrayRemove(elems ...interface{}) ArrayRemoveOp {
	return ArrayRemoveOp{Elems: elems}
}

func IsServerTimestamp(v interface{}) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

func IsDeleteField(v interface{}) bool {
	_, ok := v.(deleteField)
	return ok
}

// WriteBatch collects writes that Commit applies atomically: all of them land or none do.
// Create fails the whole batch with a Conflict error when the document already exists.
type WriteBatch interface {
	Create(docPath string, data map[string]interface{}) WriteBatch
	Set(docPath string, data map[string]interface{}, merge bool) WriteBatch
	Update(docPath string, updates []FieldUpdate) WriteBatch
	Commit(ctx context.Context) error
}

type QueryHandler func(docs []*Document)

// DocumentHandler receives nil when the document does not exist.
type DocumentHandler func(doc *Document)

type ErrorHandler func(err error)

// DocumentStore is the remote source of truth. Listeners deliver an initial
// snapshot and then one per change; after onError the listener is stopped.
// The returned cancel func is idempotent and no callback starts after it returns.
type DocumentStore interface {
	Get(ctx context.Context, docPath string) (*Document, error)
	Set(ctx context.Context, docPath string, data map[string]interface{}, merge bool) error
	Update(ctx context.Context, docPath string, updates []FieldUpdate) error
	Query(ctx context.Context, q Query) ([]*Document, error)
	Batch() WriteBatch

	ListenQuery(ctx context.Context, q Query, onNext QueryHandler, onError ErrorHandler) (cancel func())
	ListenDoc(ctx context.Context, docPath string, onNext DocumentHandler, onError ErrorHandler) (cancel func())
}
