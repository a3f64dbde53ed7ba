package tally

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVotesSeedAndVote(t *testing.T) {
	v := NewVotes()
	snap := v.Seed("m", "alice", "bob")
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0}, snap.Counts)
	assert.Zero(t, snap.Total)

	v.Vote("m", "alice")
	snap = v.Vote("m", "alice")
	assert.Equal(t, map[string]int{"alice": 2, "bob": 0}, snap.Counts)
	assert.Equal(t, 2, snap.Total)

	// seeding again must not reset
	snap = v.Seed("m", "alice", "bob")
	assert.Equal(t, 2, snap.Total)
}

func TestVotesLazyRoom(t *testing.T) {
	v := NewVotes()
	_, ok := v.Snapshot("late")
	assert.False(t, ok)

	snap := v.Vote("late", "carol")
	assert.Equal(t, map[string]int{"carol": 1}, snap.Counts)

	_, ok = v.Snapshot("late")
	assert.True(t, ok)
}

func TestVotesMonotonic(t *testing.T) {
	v := NewVotes()
	v.Seed("m", "a", "b")
	keys := []string{"a", "b", "c", "a"}
	prev := 0
	for i := 0; i < 40; i++ {
		snap := v.Vote("m", keys[i%len(keys)])
		assert.GreaterOrEqual(t, snap.Total, prev)
		prev = snap.Total
	}
	assert.Equal(t, 40, prev)
}

func TestVotesSnapshotIsCopy(t *testing.T) {
	v := NewVotes()
	snap := v.Vote("m", "a")
	snap.Counts["a"] = 100
	got, _ := v.Snapshot("m")
	assert.Equal(t, 1, got.Counts["a"])
}
