// Package tally holds the per-room audience aggregates: deduplicated
// reactions and battle votes. Types here are not safe for concurrent use;
// live.Core serialises all access.
package tally

import (
	"sort"

	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/samber/lo"
)

// ReactionSnapshot is the derived view of a room's reaction tally.
type ReactionSnapshot struct {
	Counts       map[string]int
	Leading      *string
	LeadingCount int
	Entries      int
}

// Reactions keeps, per room, the latest reaction each connection contributed.
type Reactions struct {
	rooms map[string]map[models.ConnID]string
}

func NewReactions() *Reactions {
	return &Reactions{rooms: make(map[string]map[models.ConnID]string)}
}

// Record inserts or replaces conn's entry in room and returns the new snapshot.
func (r *Reactions) Record(room string, conn models.ConnID, kind string) ReactionSnapshot {
	entries, ok := r.rooms[room]
	if !ok {
		entries = make(map[models.ConnID]string)
		r.rooms[room] = entries
	}
	entries[conn] = kind
	return summarize(entries)
}

// Remove drops conn's entry from room. The second result reports whether an
// entry existed.
func (r *Reactions) Remove(conn models.ConnID, room string) (ReactionSnapshot, bool) {
	entries, ok := r.rooms[room]
	if !ok {
		return summarize(nil), false
	}
	if _, had := entries[conn]; !had {
		return summarize(entries), false
	}
	delete(entries, conn)
	if len(entries) == 0 {
		delete(r.rooms, room)
	}
	return summarize(entries), true
}

// RemoveConn drops conn from every room and returns the updated snapshot of
// each room that changed.
func (r *Reactions) RemoveConn(conn models.ConnID) map[string]ReactionSnapshot {
	changed := make(map[string]ReactionSnapshot)
	for room := range r.rooms {
		if snap, had := r.Remove(conn, room); had {
			changed[room] = snap
		}
	}
	return changed
}

// Snapshot recomputes the view of room without mutating it.
func (r *Reactions) Snapshot(room string) ReactionSnapshot {
	return summarize(r.rooms[room])
}

// Merge unions the tallies of srcs into dst and discards the sources.
// A connection present in several sources keeps the entry of the last one.
func (r *Reactions) Merge(dst string, srcs ...string) ReactionSnapshot {
	merged, ok := r.rooms[dst]
	if !ok {
		merged = make(map[models.ConnID]string)
	}
	for _, src := range srcs {
		if src == dst {
			continue
		}
		for conn, kind := range r.rooms[src] {
			merged[conn] = kind
		}
		delete(r.rooms, src)
	}
	if len(merged) > 0 {
		r.rooms[dst] = merged
	}
	return summarize(merged)
}

// summarize counts entries per type. The leading type is the one with the
// strictly highest count; equal counts go to the type that sorts first.
func summarize(entries map[models.ConnID]string) ReactionSnapshot {
	counts := make(map[string]int)
	for _, kind := range entries {
		counts[kind]++
	}

	snap := ReactionSnapshot{Counts: counts, Entries: len(entries)}
	kinds := lo.Keys(counts)
	sort.Strings(kinds)
	for _, kind := range kinds {
		if counts[kind] > snap.LeadingCount {
			k := kind
			snap.Leading = &k
			snap.LeadingCount = counts[kind]
		}
	}
	return snap
}

// Drop forgets the whole tally of room.
func (r *Reactions) Drop(room string) {
	delete(r.rooms, room)
}
