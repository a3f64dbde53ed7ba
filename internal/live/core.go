// Package live owns all process-local room state: identities, the room
// registry and the reaction and vote tallies. Every exported method of Core
// runs under one mutex, so each handler's in-memory step is atomic with
// respect to every other handler.
package live

import (
	"fmt"
	"sync"

	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/jason-s-yu/livehub/internal/tally"
	"github.com/samber/lo"
)

// Core is the single owner of the in-memory indices.
type Core struct {
	mu        sync.Mutex
	presence  Presence
	ids       *IdentityMap
	rooms     *Registry
	reactions *tally.Reactions
	votes     *tally.Votes
}

func NewCore(p Presence) *Core {
	return &Core{
		presence:  p,
		ids:       NewIdentityMap(),
		rooms:     NewRegistry(p),
		reactions: tally.NewReactions(),
		votes:     tally.NewVotes(),
	}
}

// DeclareOwner registers conn as owner and broadcaster of room and attaches
// its identity when one is known. Claiming the name of a room that was folded
// into a battle starts it with an empty reaction tally.
func (c *Core) DeclareOwner(room string, conn models.ConnID, id *models.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != nil {
		c.ids.Set(conn, *id)
	}
	if _, consumed := c.rooms.ConsumedInto(room); consumed {
		c.reactions.Drop(room)
	}
	c.rooms.RegisterOwner(room, conn)
}

func (c *Core) Identity(conn models.ConnID) (models.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids.Get(conn)
}

// AddBroadcaster registers conn as an extra broadcaster of room.
func (c *Core) AddBroadcaster(room string, conn models.ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms.AddBroadcaster(room, conn)
}

func (c *Core) ResolveTarget(room string) (models.ConnID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.ResolveTarget(room)
}

func (c *Core) NegotiationEnabled(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.NegotiationEnabled(room)
}

// SetNegotiation lets the live owner of room toggle battle invites.
func (c *Core) SetNegotiation(room string, conn models.ConnID, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.rooms.Owner(room)
	if !ok {
		return fmt.Errorf("room %q has no live owner: %w", room, models.ErrNotFound)
	}
	if owner != conn {
		return fmt.Errorf("only the owner of %q may change negotiation: %w", room, models.ErrForbidden)
	}
	c.rooms.SetNegotiationEnabled(room, enabled)
	return nil
}

func (c *Core) ViewerCount(room string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.ViewerCount(room)
}

func (c *Core) RecordReaction(room string, conn models.ConnID, kind string) tally.ReactionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reactions.Record(room, conn, kind)
}

func (c *Core) Reactions(room string) tally.ReactionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reactions.Snapshot(room)
}

// LeaveRoom drops conn's reaction and broadcaster entries for one room.
// The bool reports whether the reaction tally changed.
func (c *Core) LeaveRoom(room string, conn models.ConnID) (tally.ReactionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms.RemoveBroadcaster(room, conn)
	return c.reactions.Remove(conn, room)
}

func (c *Core) Vote(room, key string) tally.VoteSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votes.Vote(room, key)
}

func (c *Core) Votes(room string) (tally.VoteSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.votes.Snapshot(room)
}

// CanBattle reports why room may not take part in a new battle: it is
// itself the product of a merge, or it was folded into one.
func (c *Core) CanBattle(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canBattleUnsafe(room)
}

func (c *Core) canBattleUnsafe(room string) error {
	if c.rooms.Merged(room) {
		return fmt.Errorf("room %q is already a battle: %w", room, models.ErrForbidden)
	}
	if into, ok := c.rooms.ConsumedInto(room); ok {
		return fmt.Errorf("room %q already merged into %q: %w", room, into, models.ErrNotFound)
	}
	return nil
}

// DisconnectResult lists what a disconnect changed.
type DisconnectResult struct {
	OwnedRooms []string
	Reactions  map[string]tally.ReactionSnapshot
}

// Disconnect removes conn from every index. The transport must already
// consider conn dead so that owner lookups skip it.
func (c *Core) Disconnect(conn models.ConnID) DisconnectResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids.Remove(conn)
	return DisconnectResult{
		OwnedRooms: c.rooms.DropConnection(conn),
		Reactions:  c.reactions.RemoveConn(conn),
	}
}

// MergePlan is everything the coordinator settled before committing a merge.
type MergePlan struct {
	Left, Right       string
	Merged            string
	LeftKey, RightKey string
}

// MergeResult says whom to tell about a committed merge. A side with
// NotifyOK false has no resolvable connection and must be told through a
// room broadcast instead. Members is the audience of both sources at the
// moment of the commit.
type MergeResult struct {
	Plan          MergePlan
	LeftNotify    models.ConnID
	LeftNotifyOK  bool
	RightNotify   models.ConnID
	RightNotifyOK bool
	Members       []models.ConnID
	Votes         tally.VoteSnapshot
	Reactions     tally.ReactionSnapshot
}

// CommitMerge applies a merge atomically after checking that neither source
// room was absorbed by another merge while the store lookups ran, and that
// neither is a merged room itself.
func (c *Core) CommitMerge(plan MergePlan) (MergeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, room := range []string{plan.Left, plan.Right} {
		if err := c.canBattleUnsafe(room); err != nil {
			return MergeResult{}, err
		}
	}

	res := MergeResult{Plan: plan}
	res.LeftNotify, res.LeftNotifyOK = c.rooms.ResolveTarget(plan.Left)
	res.RightNotify, res.RightNotifyOK = c.rooms.ResolveTarget(plan.Right)
	res.Members = lo.Uniq(append(c.presence.Members(plan.Left), c.presence.Members(plan.Right)...))

	res.Votes = c.votes.Seed(plan.Merged, plan.LeftKey, plan.RightKey)
	res.Reactions = c.reactions.Merge(plan.Merged, plan.Left, plan.Right)

	c.rooms.Consume(plan.Left, plan.Merged)
	c.rooms.Consume(plan.Right, plan.Merged)
	c.rooms.MarkMerged(plan.Merged)
	return res, nil
}

// RoomView is a read-only picture of one room for the HTTP API.
type RoomView struct {
	Room         string              `json:"room"`
	Viewers      int                 `json:"viewers"`
	Owner        models.ConnID       `json:"owner,omitempty"`
	Broadcasters []models.ConnID     `json:"broadcasters"`
	Negotiation  bool                `json:"negotiation"`
	MergedInto   string              `json:"mergedInto,omitempty"`
	Reactions    map[string]int      `json:"reactions"`
	Leading      *string             `json:"leading"`
	Votes        *tally.VoteSnapshot `json:"votes,omitempty"`
}

func (c *Core) View(room string) RoomView {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, _ := c.rooms.Owner(room)
	into, _ := c.rooms.ConsumedInto(room)
	snap := c.reactions.Snapshot(room)
	view := RoomView{
		Room:         room,
		Viewers:      c.rooms.ViewerCount(room),
		Owner:        owner,
		Broadcasters: c.rooms.Broadcasters(room),
		Negotiation:  c.rooms.NegotiationEnabled(room),
		MergedInto:   into,
		Reactions:    snap.Counts,
		Leading:      snap.Leading,
	}
	if votes, ok := c.votes.Snapshot(room); ok {
		view.Votes = &votes
	}
	return view
}
