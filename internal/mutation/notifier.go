package mutation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelError Level = "error"
	LevelInfo  Level = "info"
)

// Notification is a transient, auto-expiring user message.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Notifier holds toasts. Failures reported within Window of the first one
// in a group are merged into a single message.
type Notifier struct {
	mu     sync.Mutex
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
	items  []Notification
	group  string
	start  time.Time
}

func NewNotifier(window, ttl time.Duration) *Notifier {
	return &Notifier{window: window, ttl: ttl, now: time.Now}
}

// Failure records a failed save.
func (n *Notifier) Failure(message string) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	n.pruneLocked(now)

	if n.group != "" && now.Sub(n.start) < n.window {
		for i := range n.items {
			if n.items[i].ID != n.group {
				continue
			}
			n.items[i].Count++
			n.items[i].Message = fmt.Sprintf("%d changes could not be saved and were queued for retry", n.items[i].Count)
			n.items[i].ExpiresAt = now.Add(n.ttl)
			return n.items[i]
		}
	}

	item := Notification{
		ID:        uuid.NewString(),
		Level:     LevelError,
		Message:   message,
		Count:     1,
		CreatedAt: now,
		ExpiresAt: now.Add(n.ttl),
	}
	n.items = append(n.items, item)
	n.group = item.ID
	n.start = now
	return item
}

// Info records an informational message. Infos are never merged.
func (n *Notifier) Info(message string) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	n.pruneLocked(now)
	item := Notification{ID: uuid.NewString(), Level: LevelInfo, Message: message, Count: 1, CreatedAt: now, ExpiresAt: now.Add(n.ttl)}
	n.items = append(n.items, item)
	return item
}

// Active lists unexpired notifications oldest first.
func (n *Notifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pruneLocked(n.now())
	out := make([]Notification, len(n.items))
	copy(out, n.items)
	return out
}

func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.items {
		if n.items[i].ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}

func (n *Notifier) pruneLocked(now time.Time) {
	kept := n.items[:0]
	for _, it := range n.items {
		if now.Before(it.ExpiresAt) {
			kept = append(kept, it)
		}
	}
	n.items = kept
}
