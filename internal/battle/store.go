//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package battle

import (
	"context"

	"github.com/jason-s-yu/livehub/internal/models"
)

// Store is the durable side of a merge. Every call is best effort: the
// coordinator logs failures and carries on with fallbacks.
type Store interface {
	// LookupOwnerIdentity returns the owner of the most recently active
	// record for room, or nil when there is none.
	LookupOwnerIdentity(ctx context.Context, room string) (*models.Identity, error)
	InsertMergedRoom(ctx context.Context, ownerKey, mergedRoom, title string) error
	RetireRooms(ctx context.Context, rooms []string) error
}

// Notifier delivers control messages to connections and rooms.
type Notifier interface {
	SendTo(conn models.ConnID, msg interface{}) bool
	Broadcast(room string, msg interface{})
}

// EventSink receives negotiation events for offline processing.
type EventSink interface {
	Publish(ctx context.Context, ev models.BattleEvent) error
}
