package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/periskope/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction represents the type of change in a live query update.
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
)

// LiveQueryHandler is called for every notification of a subscription.
// Calls for one subscription are sequential, in the order SurrealDB sent them.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter narrows a live query.
type LiveQueryFilter struct {
	Where  string         // SurrealQL WHERE clause
	Params map[string]any // Query parameters
	Fields []string       // Specific fields to watch (optional)
}

// Subscription is an active live query.
type Subscription struct {
	ID    string
	Table string

	liveQueryID string
	cancel      context.CancelFunc
	done        chan struct{}
	once        sync.Once
	mu          sync.Mutex
	err         error
}

// Done is closed once the subscription stops delivering notifications.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended; nil after an explicit Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Active reports whether the subscription is still delivering.
func (s *Subscription) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// LiveQueryService provides real-time data subscriptions via SurrealDB live queries.
type LiveQueryService interface {
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error)
	Unsubscribe(subID string) error
}

// connectionLoss is implemented by connections that can report when live
// queries registered on them have been lost.
type connectionLoss interface {
	Lost() <-chan struct{}
}

// SurrealLiveQueryService implements LiveQueryService using SurrealDB.
type SurrealLiveQueryService struct {
	db            DBConnection
	subscriptions sync.Map // map[string]*Subscription
}

// NewSurrealLiveQueryService creates a new live query service.
func NewSurrealLiveQueryService(db DBConnection) *SurrealLiveQueryService {
	return &SurrealLiveQueryService{db: db}
}

// Subscribe starts a LIVE SELECT on table. The returned subscription's Done
// channel closes when Unsubscribe is called or the connection carrying the
// live query goes away.
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrInvalidInput)
	}
	if table == "" {
		return nil, fmt.Errorf("%w: table is required", ErrInvalidInput)
	}

	fieldList := "*"
	if filter != nil && len(filter.Fields) > 0 {
		fieldList = strings.Join(filter.Fields, ", ")
	}
	query := fmt.Sprintf("LIVE SELECT %s FROM %s", fieldList, table)
	if filter != nil && filter.Where != "" {
		query = fmt.Sprintf("%s WHERE %s", query, filter.Where)
	}

	params := map[string]any{}
	if filter != nil {
		for k, v := range filter.Params {
			params[k] = v
		}
	}

	return s.subscribeQuery(ctx, table, query, params, handler)
}

func (s *SurrealLiveQueryService) subscribeQuery(ctx context.Context, table, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:     uuid.New().String(),
		Table:  table,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var lost <-chan struct{}
	if cl, ok := s.db.(connectionLoss); ok {
		lost = cl.Lost()
	}

	err := s.db.WithConnection(ctx, func(dbConn *surrealdb.DB) error {
		slog.DebugContext(ctx, "Creating live query subscription", "subID", sub.ID, "table", table)

		results, err := surrealdb.Query[any](ctx, dbConn, query, params)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return errors.New("live query returned no results")
		}

		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}

		liveQueryID, err := liveQueryIDFrom(result.Result)
		if err != nil {
			return err
		}
		sub.liveQueryID = liveQueryID

		notifications, err := dbConn.LiveNotifications(liveQueryID)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		slog.InfoContext(ctx, "Live query established", "subID", sub.ID, "liveQueryID", liveQueryID, "table", table)

		go s.listenForNotifications(subCtx, sub, notifications, lost, handler)
		go s.killOnCancel(subCtx, sub, dbConn)
		return nil
	})
	if err != nil {
		cancel()
		return nil, &StoreError{Op: "live_query", Query: query, Err: err}
	}

	s.subscriptions.Store(sub.ID, sub)
	return sub, nil
}

func liveQueryIDFrom(result any) (string, error) {
	var id string
	switch v := result.(type) {
	case string:
		id = v
	case models.UUID:
		id = v.String()
	case *models.UUID:
		if v != nil {
			id = v.String()
		}
	case map[string]any:
		switch inner := v["id"].(type) {
		case string:
			id = inner
		case models.UUID:
			id = inner.String()
		default:
			return "", fmt.Errorf("live query result map does not contain 'id' field: %+v", v)
		}
	default:
		return "", fmt.Errorf("unexpected live query result type: %T", result)
	}
	if id == "" {
		return "", errors.New("live query returned empty UUID")
	}
	return id, nil
}

// killOnCancel releases the server side of the live query once the
// subscription ends, whatever the reason.
func (s *SurrealLiveQueryService) killOnCancel(ctx context.Context, sub *Subscription, dbConn *surrealdb.DB) {
	<-ctx.Done()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := dbConn.CloseLiveNotifications(sub.liveQueryID); err != nil {
		slog.Debug("Failed to close live notifications", "error", err, "liveQueryID", sub.liveQueryID)
	}

	killParams := map[string]any{"liveQueryID": sub.liveQueryID}
	if _, err := surrealdb.Query[any](cleanupCtx, dbConn, "KILL $liveQueryID", killParams); err != nil {
		slog.Debug("Failed to kill live query", "error", err, "liveQueryID", sub.liveQueryID)
	} else {
		slog.Debug("Killed live query", "liveQueryID", sub.liveQueryID)
	}
}

// Unsubscribe stops a subscription. Unknown IDs are ignored.
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	v, ok := s.subscriptions.LoadAndDelete(subID)
	if !ok {
		return nil
	}
	sub := v.(*Subscription)
	sub.finish(nil)
	sub.cancel()
	slog.Debug("Live query subscription removed", "subID", subID)
	return nil
}

// listenForNotifications delivers notifications to handler one at a time.
func (s *SurrealLiveQueryService) listenForNotifications(ctx context.Context, sub *Subscription, notifications <-chan connection.Notification, lost <-chan struct{}, handler LiveQueryHandler) {
	defer func() {
		s.subscriptions.Delete(sub.ID)
		sub.cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			sub.finish(nil)
			return

		case <-lost:
			slog.Warn("Live query connection lost", "subID", sub.ID, "liveQueryID", sub.liveQueryID)
			sub.finish(fmt.Errorf("%w: connection lost", domain.ErrSubscriptionDropped))
			return

		case notification, ok := <-notifications:
			if !ok {
				slog.Warn("Live query notification channel closed", "subID", sub.ID)
				sub.finish(fmt.Errorf("%w: notification channel closed", domain.ErrSubscriptionDropped))
				return
			}

			var action LiveQueryAction
			switch notification.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				slog.Debug("Ignoring live query notification", "subID", sub.ID, "action", notification.Action)
				continue
			}

			s.dispatch(ctx, sub, handler, action, notification.Result)
		}
	}
}

func (s *SurrealLiveQueryService) dispatch(ctx context.Context, sub *Subscription, handler LiveQueryHandler, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in live query handler", "subID", sub.ID, "panic", r)
		}
	}()
	handler(ctx, action, data)
}
