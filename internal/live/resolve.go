package live

import (
	"sort"

	"github.com/jason-s-yu/livehub/internal/models"
)

// Strategy is one way of finding a live connection that speaks for a room.
type Strategy func(r *Registry, room string) (models.ConnID, bool)

// OwnerStrategy returns the registered owner if it is still connected.
func OwnerStrategy(r *Registry, room string) (models.ConnID, bool) {
	owner, ok := r.owners[room]
	if !ok || !r.presence.Alive(owner) {
		return "", false
	}
	return owner, true
}

// BroadcasterStrategy returns a live broadcaster of the room. Ownership can
// race a party re-announcing itself, so any broadcaster is acceptable; the
// lowest handle is picked to keep the choice stable.
func BroadcasterStrategy(r *Registry, room string) (models.ConnID, bool) {
	live := r.liveBroadcasters(room)
	if len(live) == 0 {
		return "", false
	}
	return live[0], true
}

// TargetStrategies is the order used to find the recipient of a battle invite.
var TargetStrategies = []Strategy{OwnerStrategy, BroadcasterStrategy}

func (r *Registry) liveBroadcasters(room string) []models.ConnID {
	set := r.broadcasters[room]
	out := make([]models.ConnID, 0, len(set))
	for conn := range set {
		if r.presence.Alive(conn) {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
