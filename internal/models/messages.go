package models

import "encoding/json"

// Inbound message types.
const (
	MsgDeclareOwner   = "declare_owner"
	MsgJoinRoom       = "join_room"
	MsgLeaveRoom      = "leave_room"
	MsgReaction       = "reaction"
	MsgBattleRequest  = "battle_request"
	MsgBattleResponse = "battle_response"
	MsgBattleVote     = "battle_vote"
	MsgSetNegotiation = "set_negotiation"
	MsgRelayOffer     = "relay_offer"
	MsgRelayAnswer    = "relay_answer"
	MsgRelayCandidate = "relay_candidate"
	MsgPing           = "ping"
)

// Outbound message types. battle_response and the relay_* types are reused
// in both directions.
const (
	MsgWelcome       = "welcome"
	MsgBattleInvite  = "battle_invite"
	MsgBattleStart   = "battle_start"
	MsgBattleMerged  = "battle_merged"
	MsgBattleExpired = "battle_expired"
	MsgBattleError   = "battle_error"
	MsgReactionStats = "reaction_stats"
	MsgVotesUpdated  = "votes_updated"
	MsgPresenceCount = "presence_count"
	MsgError         = "error"
	MsgPong          = "pong"
)

// Negotiation failure reasons carried by battle_error.
const (
	ReasonTargetNotFound = "target-not-found"
	ReasonTargetDisabled = "target-disabled"
)

// Expiry reasons carried by battle_expired.
const (
	ExpiredTimeout    = "timeout"
	ExpiredDisconnect = "disconnect"
)

// Envelope is decoded first to find the handler for a frame.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> server

type RoomMessage struct {
	Room string `json:"room" validate:"required,max=128"`
}

type ReactionMessage struct {
	Room     string `json:"room" validate:"required,max=128"`
	Reaction string `json:"reaction" validate:"required,max=32"`
}

type BattleRequestMessage struct {
	FromRoom   string `json:"fromRoom" validate:"required,max=128"`
	TargetRoom string `json:"targetRoom" validate:"required,max=128,nefield=FromRoom"`
}

// BattleResponseMessage travels both ways. Accept is a pointer so that a
// frame without it fails validation instead of reading as a rejection.
type BattleResponseMessage struct {
	Type       string `json:"type"`
	FromRoom   string `json:"fromRoom" validate:"required,max=128"`
	TargetRoom string `json:"targetRoom" validate:"required,max=128"`
	Accept     *bool  `json:"accept" validate:"required"`
}

type BattleVoteMessage struct {
	Room     string `json:"room" validate:"required,max=128"`
	OwnerKey string `json:"ownerKey" validate:"required,max=128"`
}

type SetNegotiationMessage struct {
	Room    string `json:"room" validate:"required,max=128"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

type RelayMessage struct {
	To      ConnID          `json:"to" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Server -> client

type WelcomeMessage struct {
	Type         string `json:"type"`
	ConnectionID ConnID `json:"connectionId"`
}

type BattleInviteMessage struct {
	Type           string `json:"type"`
	FromRoom       string `json:"fromRoom"`
	TargetRoom     string `json:"targetRoom"`
	FromConnection ConnID `json:"fromConnection"`
}

// BattleOutcomeMessage is used for both battle_start and battle_merged.
type BattleOutcomeMessage struct {
	Type       string `json:"type"`
	MergedRoom string `json:"mergedRoom"`
	LeftOwner  string `json:"leftOwner"`
	RightOwner string `json:"rightOwner"`
}

type BattleExpiredMessage struct {
	Type       string `json:"type"`
	FromRoom   string `json:"fromRoom"`
	TargetRoom string `json:"targetRoom"`
	Reason     string `json:"reason"`
}

type BattleErrorMessage struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	TargetRoom string `json:"targetRoom,omitempty"`
}

type ReactionStatsMessage struct {
	Type         string         `json:"type"`
	Room         string         `json:"room"`
	Leading      *string        `json:"leading"`
	LeadingCount int            `json:"leadingCount"`
	Counts       map[string]int `json:"counts"`
}

type VotesUpdatedMessage struct {
	Type   string         `json:"type"`
	Room   string         `json:"room"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type PresenceCountMessage struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Count int    `json:"count"`
}

type RelayOutMessage struct {
	Type    string          `json:"type"`
	From    ConnID          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// NewErrorMessage builds an error frame for the sender.
func NewErrorMessage(message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgError, Message: message}
}
