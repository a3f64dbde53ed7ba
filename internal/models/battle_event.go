package models

// Battle event kinds pushed onto the event queue.
const (
	BattleEventInvite   = "invite"
	BattleEventResponse = "response"
	BattleEventMerged   = "merged"
	BattleEventVote     = "vote"
	BattleEventExpired  = "expired"
)

// BattleEvent is one negotiation or voting step, queued for the historian.
type BattleEvent struct {
	Kind       string `json:"kind"`
	FromRoom   string `json:"from_room,omitempty"`
	TargetRoom string `json:"target_room,omitempty"`
	MergedRoom string `json:"merged_room,omitempty"`
	ActorConn  ConnID `json:"actor_conn,omitempty"`
	OwnerKey   string `json:"owner_key,omitempty"`
	Accept     *bool  `json:"accept,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
