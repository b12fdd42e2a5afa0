// Package memory is an in-process remote.Store. It keeps bson documents, can
// be switched offline and can be told to fail commits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	applog "zerosum/internal/log"
	"zerosum/internal/remote"
)

type subscriber struct {
	q  remote.Query
	ch chan remote.Snapshot
}

// Store implements remote.Store in memory.
type Store struct {
	mu      sync.Mutex
	colls   map[string]map[string]bson.M
	applied map[string]struct{}
	offline bool
	failN   int
	failErr error
	subs    map[int]*subscriber
	nextSub int
	commits int
	closed  bool
	logger  *applog.Logger
}

func New() *Store {
	s := &Store{
		colls:   make(map[string]map[string]bson.M),
		applied: make(map[string]struct{}),
		subs:    make(map[int]*subscriber),
		logger:  applog.Named(applog.ComponentRemote),
	}
	for _, c := range remote.Collections {
		s.colls[c] = make(map[string]bson.M)
	}
	return s
}

// SetOffline makes every call fail with remote.ErrUnavailable while true.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailNextCommits makes the next n commits fail with err, or
// remote.ErrUnavailable when err is nil.
func (s *Store) FailNextCommits(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
	s.failErr = err
}

// Commits returns the number of batches applied.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Applied reports whether a batch with id has been applied.
func (s *Store) Applied(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applied[id]
	return ok
}

// Get returns a copy of one document.
func (s *Store) Get(collection, id string) (bson.M, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.colls[collection][id]
	if !ok {
		return nil, false
	}
	return copyDoc(d), true
}

// Put writes doc directly, outside any batch, and notifies subscribers.
func (s *Store) Put(collection, id string, doc any) error {
	m, err := toDoc(id, doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll(collection)[id] = m
	s.broadcastLocked(collection, nil)
	return nil
}

func (s *Store) coll(name string) map[string]bson.M {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]bson.M)
		s.colls[name] = c
	}
	return c
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return remote.ErrUnavailable
	}
	return nil
}

func (s *Store) Load(ctx context.Context, q remote.Query) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, remote.ErrUnavailable
	}
	return s.queryLocked(q, s.coll(q.Collection))
}

func (s *Store) queryLocked(q remote.Query, docs map[string]bson.M) ([]bson.Raw, error) {
	var matched []bson.M
	for _, d := range docs {
		if matches(d, q.Filters) {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if q.OrderBy != "" {
			c, _ := compare(matched[i][q.OrderBy], matched[j][q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return fmt.Sprint(matched[i]["_id"]) < fmt.Sprint(matched[j]["_id"])
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]bson.Raw, 0, len(matched))
	for _, d := range matched {
		raw, err := bson.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, b remote.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		return fmt.Errorf("commit %s: %w", b.ID, remote.ErrUnavailable)
	}
	if s.failN > 0 {
		s.failN--
		if s.failErr != nil {
			return fmt.Errorf("commit %s: %w", b.ID, s.failErr)
		}
		return fmt.Errorf("commit %s: %w", b.ID, remote.ErrUnavailable)
	}
	if _, dup := s.applied[b.ID]; dup && b.ID != "" {
		s.logger.DebugContext(ctx, "Batch already applied", applog.FieldMutationID, b.ID)
		return nil
	}

	staged := make(map[string]map[string]bson.M)
	stage := func(name string) map[string]bson.M {
		if c, ok := staged[name]; ok {
			return c
		}
		c := make(map[string]bson.M, len(s.coll(name)))
		for id, d := range s.coll(name) {
			c[id] = d
		}
		staged[name] = c
		return c
	}

	pending := make(map[string]bool)
	for _, op := range b.Ops {
		c := stage(op.Collection)
		if err := applyOp(c, op); err != nil {
			return fmt.Errorf("commit %s: %s: %w", b.ID, op, err)
		}
		pending[op.ID] = true
	}

	for name := range staged {
		if s.hasSubscriber(name) {
			s.broadcastLocked(name, &pendingView{docs: staged[name], ids: pending})
		}
	}
	for name, c := range staged {
		s.colls[name] = c
	}
	if b.ID != "" {
		s.applied[b.ID] = struct{}{}
	}
	s.commits++
	for name := range staged {
		s.broadcastLocked(name, nil)
	}
	return nil
}

func applyOp(c map[string]bson.M, op remote.Op) error {
	switch op.Kind {
	case remote.OpSet:
		d, err := toDoc(op.ID, op.Doc)
		if err != nil {
			return err
		}
		c[op.ID] = d
	case remote.OpUpdate:
		cur, ok := c[op.ID]
		if !ok {
			return remote.ErrNotFound
		}
		next := copyDoc(cur)
		for k, v := range op.Fields {
			next[k] = v
		}
		c[op.ID] = next
	case remote.OpIncrement:
		cur, ok := c[op.ID]
		if !ok {
			return remote.ErrNotFound
		}
		next := copyDoc(cur)
		for k, v := range op.Fields {
			delta, ok := toInt64(v)
			if !ok {
				return fmt.Errorf("non-integer increment for %q", k)
			}
			base, _ := toInt64(next[k])
			next[k] = base + delta
		}
		c[op.ID] = next
	case remote.OpDelete:
		delete(c, op.ID)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

type pendingView struct {
	docs map[string]bson.M
	ids  map[string]bool
}

func (s *Store) hasSubscriber(collection string) bool {
	for _, sub := range s.subs {
		if sub.q.Collection == collection {
			return true
		}
	}
	return false
}

func (s *Store) broadcastLocked(collection string, pv *pendingView) {
	for _, sub := range s.subs {
		if sub.q.Collection != collection {
			continue
		}
		docs := s.coll(collection)
		snap := remote.Snapshot{Collection: collection}
		if pv != nil {
			docs = pv.docs
			snap.Pending = make(map[string]bool)
			for id := range pv.ids {
				if _, ok := docs[id]; ok {
					snap.Pending[id] = true
				}
			}
			snap.HasPendingWrites = len(snap.Pending) > 0
		}
		raws, err := s.queryLocked(sub.q, docs)
		if err != nil {
			s.logger.ErrorContext(context.Background(), "Failed to build snapshot", "collection", collection, "error", err)
			continue
		}
		snap.Docs = raws
		remote.Deliver(sub.ch, snap)
	}
}

func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("subscribe %s: store closed", q.Collection)
	}
	if s.offline {
		return nil, remote.ErrUnavailable
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan remote.Snapshot, 1)
	s.subs[id] = &subscriber{q: q, ch: ch}

	raws, err := s.queryLocked(q, s.coll(q.Collection))
	if err != nil {
		delete(s.subs, id)
		return nil, err
	}
	remote.Deliver(ch, remote.Snapshot{Collection: q.Collection, Docs: raws})

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-subCtx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}()
	return remote.NewSubscription(ch, cancel), nil
}

// Close ends every subscription.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, id)
	}
	s.closed = true
	return nil
}

func toDoc(id string, doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	m["_id"] = id
	return m, nil
}

func copyDoc(d bson.M) bson.M {
	out := make(bson.M, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func matches(d bson.M, filters []remote.Filter) bool {
	for _, f := range filters {
		c, ok := compare(d[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case remote.Eq:
			if c != 0 {
				return false
			}
		case remote.Gt:
			if c <= 0 {
				return false
			}
		case remote.Gte:
			if c < 0 {
				return false
			}
		case remote.Lt:
			if c >= 0 {
				return false
			}
		case remote.Lte:
			if c > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if ab == bb {
			return 0, true
		}
		if !ab {
			return -1, true
		}
		return 1, true
	}
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case ai < bi:
		return -1, true
	case ai > bi:
		return 1, true
	}
	return 0, true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case nil:
		return 0, true
	}
	return 0, false
}
