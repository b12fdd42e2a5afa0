// Package remote defines the document store the budget is synchronised with.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Collections, scoped per user by the store implementation.
const (
	Accounts     = "accounts"
	Categories   = "categories"
	Allocations  = "monthly_allocations"
	Transactions = "transactions"
)

// Collections lists every budget collection.
var Collections = []string{Accounts, Categories, Allocations, Transactions}

var (
	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrNotFound is returned when a batch targets a missing document.
	ErrNotFound = errors.New("document not found")
)

// Store is a per-user document store with atomic batches and realtime pushes.
type Store interface {
	Load(ctx context.Context, q Query) ([]bson.Raw, error)
	// Commit applies every op of b or none. A batch whose ID was already
	// applied is acknowledged without being applied again.
	Commit(ctx context.Context, b Batch) error
	// Subscribe streams snapshots of q until the subscription is closed or
	// ctx is cancelled. The first snapshot is the current state.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type OpKind string

const (
	OpSet       OpKind = "set"
	OpUpdate    OpKind = "update"
	OpIncrement OpKind = "increment"
	OpDelete    OpKind = "delete"
)

// Op is one document write inside a batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Doc        any
	Fields     map[string]any
}

func SetDoc(collection, id string, doc any) Op {
	return Op{Kind: OpSet, Collection: collection, ID: id, Doc: doc}
}

func Update(collection, id string, fields map[string]any) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

func Increment(collection, id, field string, delta int64) Op {
	return Op{Kind: OpIncrement, Collection: collection, ID: id, Fields: map[string]any{field: delta}}
}

func Delete(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s/%s", o.Kind, o.Collection, o.ID)
}

// Batch is an atomic group of writes. ID deduplicates commits.
type Batch struct {
	ID  string
	Ops []Op
}

// Touches reports whether the batch writes to collection.
func (b Batch) Touches(collection string) bool {
	for _, op := range b.Ops {
		if op.Collection == collection {
			return true
		}
	}
	return false
}

type FilterOp string

const (
	Eq  FilterOp = "eq"
	Gt  FilterOp = "gt"
	Gte FilterOp = "gte"
	Lt  FilterOp = "lt"
	Lte FilterOp = "lte"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// All selects the whole collection.
func All(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) Where(field string, op FilterOp, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

// Snapshot is the full result of a subscribed query at one point in time.
// Pending holds the ids of documents with local writes not yet confirmed.
type Snapshot struct {
	Collection       string
	Docs             []bson.Raw
	HasPendingWrites bool
	Pending          map[string]bool
}

// Subscription delivers snapshots on C until Close. C is closed when the
// subscription ends.
type Subscription struct {
	C <-chan Snapshot

	once   sync.Once
	cancel func()
}

func NewSubscription(c <-chan Snapshot, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Deliver puts snap on ch, replacing an undelivered older snapshot.
func Deliver(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// DecodeAll unmarshals raw documents into T.
func DecodeAll[T any](docs []bson.Raw) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := bson.Unmarshal(d, &v); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DocID returns the _id of a raw document.
func DocID(d bson.Raw) string {
	v, err := d.LookupErr("_id")
	if err != nil {
		return ""
	}
	s, _ := v.StringValueOK()
	return s
}
