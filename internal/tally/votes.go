package tally

// VoteSnapshot is the full vote state of a merged room.
type VoteSnapshot struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// Votes keeps per merged room the number of votes for each owner key.
// Counts only grow for the life of the room.
type Votes struct {
	rooms map[string]map[string]int
}

func NewVotes() *Votes {
	return &Votes{rooms: make(map[string]map[string]int)}
}

// Seed makes sure every key exists in room, starting at zero. Existing
// counts are left alone.
func (v *Votes) Seed(room string, keys ...string) VoteSnapshot {
	counts := v.room(room)
	for _, key := range keys {
		if _, ok := counts[key]; !ok {
			counts[key] = 0
		}
	}
	return snapshotOf(counts)
}

// Vote adds one vote for key in room. Unknown rooms and keys are created on
// the fly since a vote can race the merge fan-out.
func (v *Votes) Vote(room, key string) VoteSnapshot {
	counts := v.room(room)
	counts[key] = checkCount(counts[key] + 1)
	return snapshotOf(counts)
}

// Snapshot returns the current counts of room and whether it has a tally.
func (v *Votes) Snapshot(room string) (VoteSnapshot, bool) {
	counts, ok := v.rooms[room]
	if !ok {
		return VoteSnapshot{Counts: map[string]int{}}, false
	}
	return snapshotOf(counts), true
}

func (v *Votes) room(room string) map[string]int {
	counts, ok := v.rooms[room]
	if !ok {
		counts = make(map[string]int)
		v.rooms[room] = counts
	}
	return counts
}

func snapshotOf(counts map[string]int) VoteSnapshot {
	out := make(map[string]int, len(counts))
	total := 0
	for key, n := range counts {
		n = checkCount(n)
		out[key] = n
		total += n
	}
	return VoteSnapshot{Counts: out, Total: total}
}
