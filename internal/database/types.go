package database

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// DBConnection is what the SurrealDB stores need from a Connection. Tests and
// alternative transports can satisfy it without the health monitor.
type DBConnection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	StartMonitoring()
	IsHealthy() bool

	// DB returns the client only while it is healthy. Writes that must not
	// be retried use it directly.
	DB() (*surrealdb.DB, error)
	// WithConnection retries fn after a redial when the transport fails.
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error

	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

var _ DBConnection = (*Connection)(nil)
