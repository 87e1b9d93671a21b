package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nfrund/periskope/internal/backoff"
	"github.com/nfrund/periskope/internal/config"
	"github.com/surrealdb/surrealdb.go"
)

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// Connection owns the SurrealDB client. It probes the server periodically and
// redials with backoff when a probe or an operation hits a network failure.
type Connection struct {
	cfg     config.Provider
	retryer backoff.Retryer

	mu      sync.RWMutex
	db      *surrealdb.DB
	healthy bool
	closed  bool
	dials   uint64
	// lost is closed and replaced whenever db is swapped out, which kills
	// every live query registered on it.
	lost chan struct{}

	stop chan struct{}
}

// NewConnection creates an unconnected Connection for cfg.
func NewConnection(cfg config.Provider) *Connection {
	return &Connection{
		cfg:     cfg,
		retryer: backoff.NewExponentialBackoffRetryer(),
		lost:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Connect dials the server unless a client already exists.
func (c *Connection) Connect(ctx context.Context) error {
	if c.current() != nil {
		return nil
	}
	return c.redial(ctx)
}

// WithConnection runs fn on the current client. When fn fails for a network
// reason the client is redialed and fn retried with backoff.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	db := c.current()
	if db == nil {
		return &StoreError{Op: "connection", Err: ErrNotConnected}
	}

	first := fn(db)
	if first == nil || !isConnectionError(first) || ctx.Err() != nil {
		return first
	}

	slog.WarnContext(ctx, "SurrealDB operation lost its connection, redialing",
		"error", first, "db_url", redactDBURL(c.cfg.GetDBURL()))
	return c.retryer.Retry(ctx, func() error {
		if err := c.redial(ctx); err != nil {
			return fmt.Errorf("redial after %v: %w", first, err)
		}
		return fn(c.current())
	})
}

// Lost returns a channel closed the next time the client is replaced or the
// Connection is closed.
func (c *Connection) Lost() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lost
}

// StartMonitoring starts the background health probe. It stops on Close.
func (c *Connection) StartMonitoring() {
	go c.monitor()
}

// Close stops monitoring and closes the client. Later calls are no-ops.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy = false
	close(c.stop)
	close(c.lost)

	db := c.db
	c.db = nil
	if db == nil {
		return nil
	}
	return db.Close(ctx)
}

// DB returns the client if the last probe found it healthy.
func (c *Connection) DB() (*surrealdb.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil || !c.healthy {
		return nil, &StoreError{Op: "connection", Err: ErrNotConnected}
	}
	return c.db, nil
}

// IsHealthy reports the result of the last connect or probe.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// GetDBQueryTimeout is the default bound for reads.
func (c *Connection) GetDBQueryTimeout() time.Duration {
	return c.cfg.GetDBQueryTimeout()
}

// GetDBExecuteTimeout is the default bound for writes.
func (c *Connection) GetDBExecuteTimeout() time.Duration {
	return c.cfg.GetDBExecuteTimeout()
}

func (c *Connection) current() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// redial opens a fresh client and swaps it in. The dial happens outside the
// lock so readers keep the old client until the new one is ready.
func (c *Connection) redial(ctx context.Context) error {
	db, err := c.dial(ctx)
	if err != nil {
		c.setHealthy(false)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = db.Close(ctx)
		return &StoreError{Op: "connection", Err: ErrNotConnected}
	}
	old := c.db
	if old != nil {
		close(c.lost)
		c.lost = make(chan struct{})
	}
	c.db = db
	c.healthy = true
	c.dials++
	dials := c.dials
	c.mu.Unlock()

	if old != nil {
		_ = old.Close(ctx)
	}
	slog.InfoContext(ctx, "Connected to SurrealDB",
		"db_url", redactDBURL(c.cfg.GetDBURL()),
		"namespace", c.cfg.GetDBNs(),
		"database", c.cfg.GetDBDb(),
		"dials", dials,
	)
	return nil
}

// dial connects, signs in and selects the namespace and database.
func (c *Connection) dial(ctx context.Context) (*surrealdb.DB, error) {
	target := redactDBURL(c.cfg.GetDBURL())

	db, err := surrealdb.FromEndpointURLString(ctx, c.cfg.GetDBURL())
	if err != nil {
		slog.ErrorContext(ctx, "SurrealDB dial failed", "stage", "connect", "db_url", target, "error", err)
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}

	fail := func(stage string, err error) (*surrealdb.DB, error) {
		_ = db.Close(ctx)
		slog.ErrorContext(ctx, "SurrealDB dial failed", "stage", stage, "db_url", target, "error", err)
		return nil, fmt.Errorf("%s on %s: %w", stage, target, err)
	}

	auth := &surrealdb.Auth{Username: c.cfg.GetDBUser(), Password: c.cfg.GetDBPass()}
	if _, err := db.SignIn(ctx, auth); err != nil {
		return fail("signin", err)
	}
	if err := db.Use(ctx, c.cfg.GetDBNs(), c.cfg.GetDBDb()); err != nil {
		return fail("use", err)
	}
	return db, nil
}

func (c *Connection) monitor() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.probeOnce()
		}
	}
}

func (c *Connection) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	err := c.probe(ctx)
	if err == nil {
		return
	}
	slog.WarnContext(ctx, "SurrealDB health probe failed, redialing", "error", err)
	if err := c.retryer.Retry(ctx, func() error { return c.redial(ctx) }); err != nil {
		slog.ErrorContext(ctx, "SurrealDB is unreachable", "error", err, "db_url", redactDBURL(c.cfg.GetDBURL()))
	}
}

// probe asks the server for its version, the cheapest round trip available.
func (c *Connection) probe(ctx context.Context) error {
	db := c.current()
	if db == nil {
		c.setHealthy(false)
		return ErrNotConnected
	}
	if _, err := db.Version(ctx); err != nil {
		c.setHealthy(false)
		return fmt.Errorf("version probe: %w", err)
	}
	c.setHealthy(true)
	return nil
}

func (c *Connection) setHealthy(v bool) {
	c.mu.Lock()
	c.healthy = v
	c.mu.Unlock()
}

// isConnectionError reports whether err means the transport broke rather
// than that SurrealDB rejected a statement.
func isConnectionError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	// The websocket engine does not always wrap the net error.
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "unexpected eof", "closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// redactDBURL hides the password in dbURL for logging.
func redactDBURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
