package live

import (
	"github.com/jason-s-yu/livehub/internal/models"
)

// Presence is the transport's view of who is connected and subscribed where.
type Presence interface {
	Alive(conn models.ConnID) bool
	Members(room string) []models.ConnID
	Count(room string) int
}

// Registry tracks room ownership, broadcasters and the negotiation flag.
type Registry struct {
	owners       map[string]models.ConnID
	broadcasters map[string]map[models.ConnID]struct{}
	negotiation  map[string]bool
	// merged rooms can never negotiate again; consumed rooms were folded
	// into a merged room and stay absent until someone registers them anew.
	merged   map[string]struct{}
	consumed map[string]string
	presence Presence
}

func NewRegistry(p Presence) *Registry {
	return &Registry{
		owners:       make(map[string]models.ConnID),
		broadcasters: make(map[string]map[models.ConnID]struct{}),
		negotiation:  make(map[string]bool),
		merged:       make(map[string]struct{}),
		consumed:     make(map[string]string),
		presence:     p,
	}
}

// RegisterOwner makes conn the owner and a broadcaster of room. The
// negotiation flag defaults to true unless it was set explicitly before.
func (r *Registry) RegisterOwner(room string, conn models.ConnID) {
	r.owners[room] = conn
	r.AddBroadcaster(room, conn)
	delete(r.consumed, room)
	if _, ok := r.negotiation[room]; !ok {
		r.negotiation[room] = true
	}
}

// Owner returns the owner of room if that connection is still live.
func (r *Registry) Owner(room string) (models.ConnID, bool) {
	return OwnerStrategy(r, room)
}

func (r *Registry) AddBroadcaster(room string, conn models.ConnID) {
	set, ok := r.broadcasters[room]
	if !ok {
		set = make(map[models.ConnID]struct{})
		r.broadcasters[room] = set
	}
	set[conn] = struct{}{}
}

// RemoveBroadcaster drops conn from the broadcaster set of room. Removing
// the last member deletes the set but leaves ownership alone.
func (r *Registry) RemoveBroadcaster(room string, conn models.ConnID) {
	set, ok := r.broadcasters[room]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.broadcasters, room)
	}
}

// Broadcasters lists the live broadcasters of room in handle order.
func (r *Registry) Broadcasters(room string) []models.ConnID {
	return r.liveBroadcasters(room)
}

// SetNegotiationEnabled toggles whether room accepts battle invites.
// Merged rooms stay disabled.
func (r *Registry) SetNegotiationEnabled(room string, enabled bool) {
	if _, ok := r.merged[room]; ok {
		enabled = false
	}
	r.negotiation[room] = enabled
}

func (r *Registry) NegotiationEnabled(room string) bool {
	if _, ok := r.merged[room]; ok {
		return false
	}
	enabled, ok := r.negotiation[room]
	return !ok || enabled
}

// ViewerCount asks the transport every time; it is never cached.
func (r *Registry) ViewerCount(room string) int {
	return r.presence.Count(room)
}

// Resolve tries each strategy in order and returns the first hit.
func (r *Registry) Resolve(room string, strategies ...Strategy) (models.ConnID, bool) {
	for _, s := range strategies {
		if conn, ok := s(r, room); ok {
			return conn, true
		}
	}
	return "", false
}

// ResolveTarget finds who should receive an invite addressed to room.
func (r *Registry) ResolveTarget(room string) (models.ConnID, bool) {
	return r.Resolve(room, TargetStrategies...)
}

// DropConnection removes conn from every owner slot and broadcaster set and
// returns the rooms it owned.
func (r *Registry) DropConnection(conn models.ConnID) []string {
	var owned []string
	for room, owner := range r.owners {
		if owner == conn {
			delete(r.owners, room)
			owned = append(owned, room)
		}
	}
	for room := range r.broadcasters {
		r.RemoveBroadcaster(room, conn)
	}
	return owned
}

// Consume clears room's owner and broadcasters and records that it now
// lives on inside merged.
func (r *Registry) Consume(room, merged string) {
	r.Clear(room)
	delete(r.negotiation, room)
	r.consumed[room] = merged
}

// Clear removes the owner and the broadcaster set of room.
func (r *Registry) Clear(room string) {
	delete(r.owners, room)
	delete(r.broadcasters, room)
}

// ConsumedInto reports the merged room that absorbed room, if any.
func (r *Registry) ConsumedInto(room string) (string, bool) {
	m, ok := r.consumed[room]
	return m, ok
}

// Merged reports whether room was created by a merge.
func (r *Registry) Merged(room string) bool {
	_, ok := r.merged[room]
	return ok
}

// MarkMerged disables negotiation on room for good.
func (r *Registry) MarkMerged(room string) {
	r.merged[room] = struct{}{}
	r.negotiation[room] = false
}
