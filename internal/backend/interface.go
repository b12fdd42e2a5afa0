// Package backend assembles the remote store, local storage, mutation
// framework and ledger service a process runs on.
package backend

import (
	"context"
	"time"

	"zerosum/internal/ledger"
	"zerosum/internal/mutation"
	"zerosum/internal/remote"
	"zerosum/internal/storage"
)

// Backend is the wired stack shared by the API and the worker.
type Backend struct {
	Store     remote.Store
	Repo      *storage.SQLiteRepository
	View      *mutation.View
	Framework *mutation.Framework
	Ledger    *ledger.Service
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func(ctx context.Context) error

// BackendResult contains the backend instance and its cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	UserID   string
	MongoURI string
	MongoDB  string

	SQLiteDBPath string

	ViewCacheSize        int
	ViewCacheTTL         time.Duration
	PrefetchDelay        time.Duration
	NotifyCoalesceWindow time.Duration
	NotifyTTL            time.Duration
}

// BackendType represents the type of remote store
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	MongoBackend  BackendType = "mongo"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, MongoBackend:
		return true
	default:
		return false
	}
}
