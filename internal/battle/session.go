package battle

import (
	"time"

	"github.com/jason-s-yu/livehub/internal/models"
)

// State is the lifecycle position of a negotiation session. Only Invited
// sessions are kept; the other states are reported when a session settles.
type State int

const (
	StateInvited State = iota
	StateAccepted
	StateRejected
	StateMerged
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateInvited:
		return "invited"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateMerged:
		return "merged"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

type sessionKey struct {
	from, target string
}

// Session is an outstanding invite from one room to another.
type Session struct {
	FromRoom   string
	TargetRoom string
	Requester  models.ConnID
	Target     models.ConnID
	State      State
	CreatedAt  time.Time

	timer *time.Timer
}

func (s *Session) key() sessionKey {
	return sessionKey{from: s.FromRoom, target: s.TargetRoom}
}

func (s *Session) involves(conn models.ConnID) bool {
	return s.Requester == conn || s.Target == conn
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}
