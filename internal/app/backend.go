package app

import (
	"context"
	"fmt"

	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/database"
	"github.com/nfrund/periskope/internal/database/memory"
	"github.com/nfrund/periskope/internal/domain"
)

// DefaultConversations seed the in-memory store.
var DefaultConversations = []domain.Conversation{
	{ID: "general", Title: "General"},
	{ID: "random", Title: "Random"},
}

func (d *Dependencies) openBackend(ctx context.Context) error {
	switch d.Config.GetStoreDriver() {
	case config.DriverMemory:
		store := memory.NewStore(memory.WithConversations(DefaultConversations...))
		d.Store = store
		d.Feed = store
		d.Logins = memory.NewLoginRequests()
		d.Healthy = func() bool { return true }
		return nil

	case config.DriverSurreal:
		conn := database.NewConnection(d.Config)
		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		conn.StartMonitoring()
		d.onClose(conn.Close)

		if err := database.ApplySchema(ctx, conn); err != nil {
			_ = d.Close(ctx)
			return err
		}
		d.Store = database.NewMessageStore(conn)
		d.Feed = database.NewChangeFeed(database.NewSurrealLiveQueryService(conn))
		d.Logins = database.NewLoginRequestStore(conn)
		d.Healthy = conn.IsHealthy
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", d.Config.GetStoreDriver())
	}
}
