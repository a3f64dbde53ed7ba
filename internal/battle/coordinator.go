// Package battle runs the negotiation that merges two independently owned
// rooms into one battle room: invite, accept or reject, merge.
package battle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/livehub/internal/live"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/jason-s-yu/livehub/internal/tally"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config tunes the coordinator's timeouts.
type Config struct {
	// InviteTimeout expires an unanswered invite. Zero disables expiry.
	InviteTimeout time.Duration
	// StoreTimeout bounds every durable-store call.
	StoreTimeout time.Duration
}

// Coordinator drives battle sessions. In-memory state lives in live.Core;
// the coordinator only keeps the table of outstanding invites.
type Coordinator struct {
	core   *live.Core
	store  Store
	notify Notifier
	events EventSink
	logger *logrus.Logger
	cfg    Config

	// NewRoomName generates merged room names. Replaced in tests.
	NewRoomName func() string

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

func NewCoordinator(core *live.Core, store Store, notify Notifier, events EventSink, logger *logrus.Logger, cfg Config) *Coordinator {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Coordinator{
		core:        core,
		store:       store,
		notify:      notify,
		events:      events,
		logger:      logger,
		cfg:         cfg,
		NewRoomName: uuid.NewString,
		sessions:    make(map[sessionKey]*Session),
	}
}

// Request starts a negotiation from fromRoom to targetRoom on behalf of
// requester. Missing or unwilling targets are answered with battle_error.
func (c *Coordinator) Request(ctx context.Context, requester models.ConnID, fromRoom, targetRoom string) error {
	if fromRoom == targetRoom {
		return fmt.Errorf("room %q cannot battle itself: %w", fromRoom, models.ErrProtocol)
	}
	if err := c.core.CanBattle(fromRoom); err != nil {
		return err
	}
	log := c.logger.WithFields(logrus.Fields{"from": fromRoom, "target": targetRoom, "conn": requester})

	target, ok := c.core.ResolveTarget(targetRoom)
	if !ok {
		log.Info("battle request: target not found")
		c.notify.SendTo(requester, &models.BattleErrorMessage{
			Type: models.MsgBattleError, Reason: models.ReasonTargetNotFound, TargetRoom: targetRoom,
		})
		return nil
	}
	if !c.core.NegotiationEnabled(targetRoom) {
		log.Info("battle request: target has negotiation disabled")
		c.notify.SendTo(requester, &models.BattleErrorMessage{
			Type: models.MsgBattleError, Reason: models.ReasonTargetDisabled, TargetRoom: targetRoom,
		})
		return nil
	}

	s := &Session{
		FromRoom:   fromRoom,
		TargetRoom: targetRoom,
		Requester:  requester,
		Target:     target,
		State:      StateInvited,
		CreatedAt:  time.Now(),
	}

	c.mu.Lock()
	if old, ok := c.sessions[s.key()]; ok {
		old.stopTimer()
	}
	c.sessions[s.key()] = s
	if c.cfg.InviteTimeout > 0 {
		s.timer = time.AfterFunc(c.cfg.InviteTimeout, func() {
			c.expire(s, models.ExpiredTimeout)
		})
	}
	c.mu.Unlock()

	c.notify.SendTo(target, &models.BattleInviteMessage{
		Type:           models.MsgBattleInvite,
		FromRoom:       fromRoom,
		TargetRoom:     targetRoom,
		FromConnection: requester,
	})
	log.WithField("target_conn", target).Info("battle invite relayed")
	c.publish(ctx, models.BattleEvent{
		Kind: models.BattleEventInvite, FromRoom: fromRoom, TargetRoom: targetRoom, ActorConn: requester,
	})
	return nil
}

// Respond answers an invite. The answer is always relayed back to the
// requester; an acceptance then merges the two rooms.
func (c *Coordinator) Respond(ctx context.Context, responder models.ConnID, fromRoom, targetRoom string, accept bool) error {
	log := c.logger.WithFields(logrus.Fields{"from": fromRoom, "target": targetRoom, "conn": responder, "accept": accept})

	s, err := c.claim(responder, fromRoom, targetRoom)
	if err != nil {
		return err
	}

	relay := &models.BattleResponseMessage{
		Type:       models.MsgBattleResponse,
		FromRoom:   fromRoom,
		TargetRoom: targetRoom,
		Accept:     &accept,
	}
	delivered := false
	if s != nil {
		delivered = c.notify.SendTo(s.Requester, relay)
	}
	if !delivered {
		if conn, ok := c.core.ResolveTarget(fromRoom); ok {
			delivered = c.notify.SendTo(conn, relay)
		}
	}
	if !delivered {
		log.Info("battle response: requester no longer reachable")
	}
	c.publish(ctx, models.BattleEvent{
		Kind: models.BattleEventResponse, FromRoom: fromRoom, TargetRoom: targetRoom, ActorConn: responder, Accept: &accept,
	})

	state := StateRejected
	if accept {
		state = StateAccepted
		if c.merge(ctx, responder, fromRoom, targetRoom) {
			state = StateMerged
		}
	}
	log.WithFields(logrus.Fields{"state": state, "invited": s != nil}).Info("battle settled")
	return nil
}

// claim removes the pending session for (fromRoom, targetRoom) after making
// sure responder speaks for the target room. A nil session means the invite
// expired or never existed.
func (c *Coordinator) claim(responder models.ConnID, fromRoom, targetRoom string) (*Session, error) {
	resolved, resolvedOK := c.core.ResolveTarget(targetRoom)
	speaksForTarget := resolvedOK && resolved == responder

	c.mu.Lock()
	defer c.mu.Unlock()
	key := sessionKey{from: fromRoom, target: targetRoom}
	s, ok := c.sessions[key]
	if ok && (s.Target == responder || speaksForTarget) {
		delete(c.sessions, key)
		s.stopTimer()
		return s, nil
	}
	if !ok && speaksForTarget {
		return nil, nil
	}
	return nil, fmt.Errorf("connection %s cannot answer for room %q: %w", responder, targetRoom, models.ErrForbidden)
}

// merge resolves owner identities, commits the merge in memory, fans out
// the result and finally writes the durable records. It is detached from
// the caller's cancellation so a disconnect cannot stop it half way. It
// reports whether the merge was committed.
func (c *Coordinator) merge(ctx context.Context, responder models.ConnID, fromRoom, targetRoom string) bool {
	ctx = context.WithoutCancel(ctx)
	log := c.logger.WithFields(logrus.Fields{"from": fromRoom, "target": targetRoom})

	leftKey, rightKey := c.lookupOwners(ctx, fromRoom, targetRoom)
	if leftKey == rightKey {
		leftKey, rightKey = fromRoom, targetRoom
	}

	plan := live.MergePlan{
		Left:     fromRoom,
		Right:    targetRoom,
		Merged:   c.NewRoomName(),
		LeftKey:  leftKey,
		RightKey: rightKey,
	}
	res, err := c.core.CommitMerge(plan)
	if err != nil {
		log.WithError(err).Warn("merge abandoned")
		c.notify.SendTo(responder, &models.BattleErrorMessage{
			Type: models.MsgBattleError, Reason: models.ReasonTargetNotFound, TargetRoom: fromRoom,
		})
		return false
	}
	log = log.WithField("merged", plan.Merged)

	start := &models.BattleOutcomeMessage{
		Type:       models.MsgBattleStart,
		MergedRoom: plan.Merged,
		LeftOwner:  leftKey,
		RightOwner: rightKey,
	}
	c.notifySide(res.LeftNotify, res.LeftNotifyOK, fromRoom, start)
	if !res.RightNotifyOK || !res.LeftNotifyOK || res.RightNotify != res.LeftNotify {
		c.notifySide(res.RightNotify, res.RightNotifyOK, targetRoom, start)
	}
	merged := &models.BattleOutcomeMessage{
		Type:       models.MsgBattleMerged,
		MergedRoom: plan.Merged,
		LeftOwner:  leftKey,
		RightOwner: rightKey,
	}
	for _, member := range res.Members {
		c.notify.SendTo(member, merged)
	}
	log.WithField("members", len(res.Members)).Info("rooms merged")

	c.persistMerge(ctx, log, plan)
	c.publish(ctx, models.BattleEvent{
		Kind: models.BattleEventMerged, FromRoom: fromRoom, TargetRoom: targetRoom, MergedRoom: plan.Merged, ActorConn: responder,
	})
	return true
}

func (c *Coordinator) notifySide(conn models.ConnID, ok bool, room string, msg interface{}) {
	if ok && c.notify.SendTo(conn, msg) {
		return
	}
	c.notify.Broadcast(room, msg)
}

// lookupOwners fetches both owner keys concurrently. A failed or empty
// lookup falls back to the room name.
func (c *Coordinator) lookupOwners(ctx context.Context, left, right string) (string, string) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	keys := [2]string{left, right}
	g, gctx := errgroup.WithContext(lookupCtx)
	for i, room := range []string{left, right} {
		g.Go(func() error {
			keys[i] = c.ownerKey(gctx, room)
			return nil
		})
	}
	_ = g.Wait()
	return keys[0], keys[1]
}

func (c *Coordinator) ownerKey(ctx context.Context, room string) string {
	if c.store == nil {
		return room
	}
	id, err := c.store.LookupOwnerIdentity(ctx, room)
	if err != nil {
		c.logger.WithError(fmt.Errorf("%w: %v", models.ErrStoreDegraded, err)).
			WithField("room", room).Warn("owner lookup failed, using room name")
		return room
	}
	if id == nil || id.AccountID == "" {
		return room
	}
	return id.AccountID
}

// persistMerge writes the merged room record and only then retires the
// source rooms, so at least one record always stays resolvable.
func (c *Coordinator) persistMerge(ctx context.Context, log *logrus.Entry, plan live.MergePlan) {
	if c.store == nil {
		return
	}
	title := fmt.Sprintf("%s vs %s", plan.LeftKey, plan.RightKey)

	insertCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	err := c.store.InsertMergedRoom(insertCtx, plan.LeftKey, plan.Merged, title)
	cancel()
	if err != nil {
		log.WithError(fmt.Errorf("%w: %v", models.ErrStoreDegraded, err)).Warn("merged room record not written")
	}

	retireCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	err = c.store.RetireRooms(retireCtx, []string{plan.Left, plan.Right})
	cancel()
	if err != nil {
		log.WithError(fmt.Errorf("%w: %v", models.ErrStoreDegraded, err)).Warn("source rooms not retired")
	}
}

// Vote records one vote in a merged room and broadcasts the new totals.
func (c *Coordinator) Vote(ctx context.Context, voter models.ConnID, room, ownerKey string) tally.VoteSnapshot {
	snap := c.core.Vote(room, ownerKey)
	c.notify.Broadcast(room, &models.VotesUpdatedMessage{
		Type:   models.MsgVotesUpdated,
		Room:   room,
		Counts: snap.Counts,
		Total:  snap.Total,
	})
	c.publish(ctx, models.BattleEvent{
		Kind: models.BattleEventVote, MergedRoom: room, OwnerKey: ownerKey, ActorConn: voter,
	})
	return snap
}

// DropConnection expires every pending invite that conn takes part in and
// tells the other party.
func (c *Coordinator) DropConnection(conn models.ConnID) {
	c.mu.Lock()
	var dropped []*Session
	for key, s := range c.sessions {
		if s.involves(conn) {
			s.stopTimer()
			delete(c.sessions, key)
			dropped = append(dropped, s)
		}
	}
	c.mu.Unlock()

	for _, s := range dropped {
		c.announceExpiry(s, models.ExpiredDisconnect)
	}
}

func (c *Coordinator) expire(s *Session, reason string) {
	c.mu.Lock()
	cur, ok := c.sessions[s.key()]
	if !ok || cur != s {
		c.mu.Unlock()
		return
	}
	delete(c.sessions, s.key())
	c.mu.Unlock()

	c.announceExpiry(s, reason)
}

func (c *Coordinator) announceExpiry(s *Session, reason string) {
	msg := &models.BattleExpiredMessage{
		Type:       models.MsgBattleExpired,
		FromRoom:   s.FromRoom,
		TargetRoom: s.TargetRoom,
		Reason:     reason,
	}
	c.notify.SendTo(s.Requester, msg)
	if s.Target != s.Requester {
		c.notify.SendTo(s.Target, msg)
	}
	c.logger.WithFields(logrus.Fields{
		"from": s.FromRoom, "target": s.TargetRoom, "reason": reason, "state": StateExpired,
	}).Info("battle invite expired")
	c.publish(context.Background(), models.BattleEvent{
		Kind: models.BattleEventExpired, FromRoom: s.FromRoom, TargetRoom: s.TargetRoom, Reason: reason,
	})
}

// Pending returns a copy of the outstanding invite for the pair, if any.
func (c *Coordinator) Pending(fromRoom, targetRoom string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionKey{from: fromRoom, target: targetRoom}]
	if !ok {
		return Session{}, false
	}
	cp := *s
	cp.timer = nil
	return cp, true
}

func (c *Coordinator) publish(ctx context.Context, ev models.BattleEvent) {
	if c.events == nil {
		return
	}
	ev.Timestamp = time.Now().UnixMilli()
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()
	if err := c.events.Publish(pubCtx, ev); err != nil {
		c.logger.WithError(err).WithField("kind", ev.Kind).Warn("battle event not queued")
	}
}
