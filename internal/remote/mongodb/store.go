// Package mongodb implements remote.Store on MongoDB. Batches run in a
// multi-document transaction and subscriptions use change streams, so the
// server must be a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"

	applog "zerosum/internal/log"
	"zerosum/internal/remote"
)

const commitsCollection = "commits"

// Store is a per-user MongoDB document store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	userID string
	logger *applog.Logger
}

// Connect opens a client and verifies the connection.
func Connect(ctx context.Context, uri, dbName, userID string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	logger := applog.Named(applog.ComponentRemote)
	logger.InfoContext(ctx, "Connected to MongoDB", "database", dbName, "user_id", userID)
	return &Store{client: client, db: client.Database(dbName), userID: userID, logger: logger}, nil
}

// CollectionName scopes a collection to the store's user.
func (s *Store) CollectionName(name string) string {
	return s.userID + "." + name
}

func (s *Store) coll(name string) *mongo.Collection {
	return s.db.Collection(s.CollectionName(name))
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, q remote.Query) ([]bson.Raw, error) {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.coll(q.Collection).Find(ctx, toFilter(q.Filters), opts)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query %s: %w", q.Collection, err))
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		raw := make(bson.Raw, len(cursor.Current))
		copy(raw, cursor.Current)
		docs = append(docs, raw)
	}
	if err := cursor.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to read %s: %w", q.Collection, err))
	}
	return docs, nil
}

// LoadAll fetches several queries concurrently.
func (s *Store) LoadAll(ctx context.Context, qs ...remote.Query) ([][]bson.Raw, error) {
	out := make([][]bson.Raw, len(qs))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range qs {
		g.Go(func() error {
			docs, err := s.Load(gctx, q)
			if err != nil {
				return err
			}
			out[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Commit(ctx context.Context, b remote.Batch) error {
	session, err := s.client.StartSession()
	if err != nil {
		return classify(fmt.Errorf("failed to start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if b.ID != "" {
			if _, err := s.coll(commitsCollection).InsertOne(sc, bson.M{"_id": b.ID, "committedAt": time.Now().UTC()}); err != nil {
				return nil, err
			}
		}
		for _, op := range b.Ops {
			if err := s.apply(sc, op); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.DebugContext(ctx, "Batch already applied", applog.FieldMutationID, b.ID)
			return nil
		}
		return classify(fmt.Errorf("commit %s: %w", b.ID, err))
	}
	return nil
}

func (s *Store) apply(ctx context.Context, op remote.Op) error {
	coll := s.coll(op.Collection)
	filter := bson.M{"_id": op.ID}
	switch op.Kind {
	case remote.OpSet:
		_, err := coll.ReplaceOne(ctx, filter, op.Doc, options.Replace().SetUpsert(true))
		return err
	case remote.OpUpdate:
		res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": op.Fields})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return remote.ErrNotFound
		}
	case remote.OpIncrement:
		res, err := coll.UpdateOne(ctx, filter, bson.M{"$inc": op.Fields})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return remote.ErrNotFound
		}
	case remote.OpDelete:
		_, err := coll.DeleteOne(ctx, filter)
		return err
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

// Subscribe watches the query's collection and pushes a fresh load of the
// query on every change.
func (s *Store) Subscribe(ctx context.Context, q remote.Query) (*remote.Subscription, error) {
	stream, err := s.coll(q.Collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to watch %s: %w", q.Collection, err))
	}
	initial, err := s.Load(ctx, q)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}

	ch := make(chan remote.Snapshot, 1)
	remote.Deliver(ch, remote.Snapshot{Collection: q.Collection, Docs: initial})

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(subCtx) {
			docs, err := s.Load(subCtx, q)
			if err != nil {
				s.logger.WarnContext(subCtx, "Snapshot reload failed", "collection", q.Collection, "error", err)
				continue
			}
			remote.Deliver(ch, remote.Snapshot{Collection: q.Collection, Docs: docs})
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WarnContext(subCtx, "Change stream ended", "collection", q.Collection, "error", err)
		}
	}()
	return remote.NewSubscription(ch, cancel), nil
}

func toFilter(filters []remote.Filter) bson.D {
	f := bson.D{}
	ops := map[remote.FilterOp]string{
		remote.Eq: "$eq", remote.Gt: "$gt", remote.Gte: "$gte", remote.Lt: "$lt", remote.Lte: "$lte",
	}
	byField := map[string]bson.D{}
	var order []string
	for _, flt := range filters {
		if _, seen := byField[flt.Field]; !seen {
			order = append(order, flt.Field)
		}
		byField[flt.Field] = append(byField[flt.Field], bson.E{Key: ops[flt.Op], Value: flt.Value})
	}
	for _, field := range order {
		f = append(f, bson.E{Key: field, Value: byField[field]})
	}
	return f
}

// classify marks connectivity failures as remote.ErrUnavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, remote.ErrNotFound) {
		return err
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return err
}
