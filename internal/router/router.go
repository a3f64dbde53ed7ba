// Package router turns inbound websocket frames into state changes on
// live.Core and the battle coordinator, and fans the results out through
// the hub.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jason-s-yu/livehub/internal/battle"
	"github.com/jason-s-yu/livehub/internal/hub"
	"github.com/jason-s-yu/livehub/internal/live"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/jason-s-yu/livehub/internal/tally"
	"github.com/sirupsen/logrus"
)

type handlerFunc func(ctx context.Context, conn *hub.Conn, msgType string, data []byte) error

// Router dispatches one message type to one handler. Handlers mutate state
// first and fan out afterwards; none of them block on a socket.
type Router struct {
	hub      *hub.Hub
	core     *live.Core
	battles  *battle.Coordinator
	validate *validator.Validate
	logger   *logrus.Logger
	settle   time.Duration
	handlers map[string]handlerFunc
}

// New wires a router. settle delays the presence re-broadcast that follows
// a disconnect so that several closing sockets produce one update.
func New(h *hub.Hub, core *live.Core, battles *battle.Coordinator, logger *logrus.Logger, settle time.Duration) *Router {
	r := &Router{
		hub:      h,
		core:     core,
		battles:  battles,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		settle:   settle,
	}
	r.handlers = map[string]handlerFunc{
		models.MsgDeclareOwner:   r.handleDeclareOwner,
		models.MsgJoinRoom:       r.handleJoin,
		models.MsgLeaveRoom:      r.handleLeave,
		models.MsgReaction:       r.handleReaction,
		models.MsgBattleRequest:  r.handleBattleRequest,
		models.MsgBattleResponse: r.handleBattleResponse,
		models.MsgBattleVote:     r.handleBattleVote,
		models.MsgSetNegotiation: r.handleSetNegotiation,
		models.MsgRelayOffer:     r.handleRelay,
		models.MsgRelayAnswer:    r.handleRelay,
		models.MsgRelayCandidate: r.handleRelay,
		models.MsgPing:           r.handlePing,
	}
	return r
}

// Connect registers conn with the hub and tells the client its handle.
func (r *Router) Connect(conn *hub.Conn) {
	r.hub.Register(conn)
	conn.Write(&models.WelcomeMessage{Type: models.MsgWelcome, ConnectionID: conn.ID})
}

// Handle processes one text frame. Errors never close the connection; the
// sender gets an error frame instead.
func (r *Router) Handle(ctx context.Context, conn *hub.Conn, data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.fail(conn, "", fmt.Errorf("invalid json: %w", models.ErrProtocol))
		return
	}
	h, ok := r.handlers[env.Type]
	if !ok {
		r.fail(conn, env.Type, fmt.Errorf("unknown message type %q: %w", env.Type, models.ErrProtocol))
		return
	}
	if err := h(ctx, conn, env.Type, data); err != nil {
		r.fail(conn, env.Type, err)
	}
}

func (r *Router) fail(conn *hub.Conn, msgType string, err error) {
	log := r.logger.WithFields(logrus.Fields{"conn": conn.ID, "type": msgType}).WithError(err)
	switch {
	case errors.Is(err, models.ErrProtocol), errors.Is(err, models.ErrForbidden):
		log.Warn("rejected message")
		conn.Write(models.NewErrorMessage(err.Error()))
	case errors.Is(err, models.ErrNotFound):
		log.Info("message target not found")
		conn.Write(models.NewErrorMessage(err.Error()))
	default:
		log.Error("message handling failed")
		conn.Write(models.NewErrorMessage("internal error"))
	}
}

// Disconnect removes conn everywhere. The hub forgets it first so owner
// resolution already treats it as gone while the indices are cleaned.
func (r *Router) Disconnect(conn *hub.Conn) {
	rooms := r.hub.Unregister(conn.ID)
	res := r.core.Disconnect(conn.ID)
	r.battles.DropConnection(conn.ID)

	for room, snap := range res.Reactions {
		r.hub.Broadcast(room, reactionStats(room, snap))
	}
	if len(res.OwnedRooms) > 0 {
		r.logger.WithFields(logrus.Fields{"conn": conn.ID, "rooms": res.OwnedRooms}).Info("owner left")
	}
	if len(rooms) == 0 {
		return
	}
	time.AfterFunc(r.settle, func() {
		for _, room := range rooms {
			r.broadcastPresence(room)
		}
	})
}

func decode[T any](v *validator.Validate, data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("malformed payload: %w", models.ErrProtocol)
	}
	if err := v.Struct(msg); err != nil {
		return msg, fmt.Errorf("%v: %w", err, models.ErrProtocol)
	}
	return msg, nil
}

func (r *Router) handleDeclareOwner(_ context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.RoomMessage](r.validate, data)
	if err != nil {
		return err
	}
	r.hub.Join(msg.Room, conn.ID)
	r.core.DeclareOwner(msg.Room, conn.ID, conn.Identity)
	r.logger.WithFields(logrus.Fields{"conn": conn.ID, "room": msg.Room}).Info("owner declared")
	r.catchUp(conn, msg.Room)
	r.broadcastPresence(msg.Room)
	return nil
}

func (r *Router) handleJoin(_ context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.RoomMessage](r.validate, data)
	if err != nil {
		return err
	}
	r.hub.Join(msg.Room, conn.ID)
	r.catchUp(conn, msg.Room)
	r.broadcastPresence(msg.Room)
	return nil
}

// catchUp sends a newcomer the current aggregates of room.
func (r *Router) catchUp(conn *hub.Conn, room string) {
	if snap := r.core.Reactions(room); snap.Entries > 0 {
		conn.Write(reactionStats(room, snap))
	}
	if votes, ok := r.core.Votes(room); ok {
		conn.Write(votesUpdated(room, votes))
	}
}

func (r *Router) handleLeave(_ context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.RoomMessage](r.validate, data)
	if err != nil {
		return err
	}
	if !r.hub.Leave(msg.Room, conn.ID) {
		return fmt.Errorf("not in room %q: %w", msg.Room, models.ErrNotFound)
	}
	if snap, changed := r.core.LeaveRoom(msg.Room, conn.ID); changed {
		r.hub.Broadcast(msg.Room, reactionStats(msg.Room, snap))
	}
	r.broadcastPresence(msg.Room)
	return nil
}

func (r *Router) handleReaction(_ context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.ReactionMessage](r.validate, data)
	if err != nil {
		return err
	}
	snap := r.core.RecordReaction(msg.Room, conn.ID, msg.Reaction)
	r.hub.Broadcast(msg.Room, reactionStats(msg.Room, snap))
	return nil
}

func (r *Router) handleBattleRequest(ctx context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.BattleRequestMessage](r.validate, data)
	if err != nil {
		return err
	}
	return r.battles.Request(ctx, conn.ID, msg.FromRoom, msg.TargetRoom)
}

func (r *Router) handleBattleResponse(ctx context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.BattleResponseMessage](r.validate, data)
	if err != nil {
		return err
	}
	return r.battles.Respond(ctx, conn.ID, msg.FromRoom, msg.TargetRoom, *msg.Accept)
}

func (r *Router) handleBattleVote(ctx context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.BattleVoteMessage](r.validate, data)
	if err != nil {
		return err
	}
	r.battles.Vote(ctx, conn.ID, msg.Room, msg.OwnerKey)
	return nil
}

func (r *Router) handleSetNegotiation(_ context.Context, conn *hub.Conn, _ string, data []byte) error {
	msg, err := decode[models.SetNegotiationMessage](r.validate, data)
	if err != nil {
		return err
	}
	return r.core.SetNegotiation(msg.Room, conn.ID, *msg.Enabled)
}

// handleRelay forwards an offer, answer or candidate to exactly one handle.
func (r *Router) handleRelay(_ context.Context, conn *hub.Conn, msgType string, data []byte) error {
	msg, err := decode[models.RelayMessage](r.validate, data)
	if err != nil {
		return err
	}
	out := &models.RelayOutMessage{Type: msgType, From: conn.ID, Payload: msg.Payload}
	if !r.hub.SendTo(msg.To, out) {
		return fmt.Errorf("relay target %s unavailable: %w", msg.To, models.ErrNotFound)
	}
	return nil
}

func (r *Router) handlePing(_ context.Context, conn *hub.Conn, _ string, _ []byte) error {
	conn.Write(&models.PongMessage{Type: models.MsgPong})
	return nil
}

func (r *Router) broadcastPresence(room string) {
	r.hub.Broadcast(room, &models.PresenceCountMessage{
		Type:  models.MsgPresenceCount,
		Room:  room,
		Count: r.core.ViewerCount(room),
	})
}

func reactionStats(room string, snap tally.ReactionSnapshot) *models.ReactionStatsMessage {
	return &models.ReactionStatsMessage{
		Type:         models.MsgReactionStats,
		Room:         room,
		Leading:      snap.Leading,
		LeadingCount: snap.LeadingCount,
		Counts:       snap.Counts,
	}
}

func votesUpdated(room string, snap tally.VoteSnapshot) *models.VotesUpdatedMessage {
	return &models.VotesUpdatedMessage{
		Type:   models.MsgVotesUpdated,
		Room:   room,
		Counts: snap.Counts,
		Total:  snap.Total,
	}
}
