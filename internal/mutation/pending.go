package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type Type string

const (
	TypeAdd    Type = "add"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
)

type Entity string

const (
	EntityTransaction Entity = "transaction"
	EntityCategory    Entity = "category"
	EntityAllocation  Entity = "allocation"
	EntityAccount     Entity = "account"
)

// PendingMutation is a mutation whose commit failed. Operation and Payload
// are enough to replay it.
type PendingMutation struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Entity    Entity          `json:"entity"`
	EntityID  string          `json:"entityId"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
}

// PendingLog is the durable queue of failed mutations.
type PendingLog interface {
	Append(ctx context.Context, m PendingMutation) error
	Update(ctx context.Context, m PendingMutation) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (PendingMutation, error)
	List(ctx context.Context) ([]PendingMutation, error)
}

// MemoryLog is a PendingLog that does not survive restarts.
type MemoryLog struct {
	mu    sync.Mutex
	items map[string]PendingMutation
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{items: make(map[string]PendingMutation)}
}

func (l *MemoryLog) Append(_ context.Context, m PendingMutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[m.ID]; ok {
		return fmt.Errorf("pending mutation %s already queued", m.ID)
	}
	l.items[m.ID] = m
	return nil
}

func (l *MemoryLog) Update(_ context.Context, m PendingMutation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[m.ID]; !ok {
		return ErrNotQueued
	}
	l.items[m.ID] = m
	return nil
}

func (l *MemoryLog) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, id)
	return nil
}

func (l *MemoryLog) Get(_ context.Context, id string) (PendingMutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.items[id]
	if !ok {
		return PendingMutation{}, ErrNotQueued
	}
	return m, nil
}

// List returns queued mutations oldest first.
func (l *MemoryLog) List(_ context.Context) ([]PendingMutation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PendingMutation, 0, len(l.items))
	for _, m := range l.items {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
