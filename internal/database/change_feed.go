package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/periskope/internal/domain"
)

// ChangeFeed adapts SurrealDB live queries to domain.ChangeFeed. Only
// CREATE notifications are forwarded, as inserts.
type ChangeFeed struct {
	live LiveQueryService
}

var _ domain.ChangeFeed = (*ChangeFeed)(nil)

// NewChangeFeed creates a change feed backed by live.
func NewChangeFeed(live LiveQueryService) *ChangeFeed {
	return &ChangeFeed{live: live}
}

// Subscribe starts delivering inserts matching filter to handler.
func (f *ChangeFeed) Subscribe(ctx context.Context, filter domain.FeedFilter, handler domain.InsertHandler) (domain.FeedSubscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrInvalidInput)
	}
	if filter.Event != "" && filter.Event != domain.EventInsert {
		return nil, fmt.Errorf("%w: unsupported feed event %q", ErrInvalidInput, filter.Event)
	}
	table := filter.Table
	if table == "" {
		table = domain.MessagesTable
	}

	var lf *LiveQueryFilter
	if filter.ConversationID != "" {
		lf = &LiveQueryFilter{
			Where:  "chat_id = $chat_id",
			Params: map[string]any{"chat_id": filter.ConversationID},
		}
	}

	sub, err := f.live.Subscribe(ctx, table, lf, func(ctx context.Context, action LiveQueryAction, data any) {
		if action != ActionCreate {
			return
		}
		msg, err := decodeMessage(data)
		if err != nil {
			slog.WarnContext(ctx, "Dropping undecodable feed notification", "table", table, "error", err)
			return
		}
		handler(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return &feedSubscription{sub: sub, live: f.live}, nil
}

type feedSubscription struct {
	sub  *Subscription
	live LiveQueryService
}

func (s *feedSubscription) ID() string            { return s.sub.ID }
func (s *feedSubscription) Done() <-chan struct{} { return s.sub.Done() }
func (s *feedSubscription) Err() error            { return s.sub.Err() }
func (s *feedSubscription) Unsubscribe() error    { return s.live.Unsubscribe(s.sub.ID) }
