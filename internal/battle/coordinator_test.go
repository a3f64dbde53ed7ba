package battle

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jason-s-yu/livehub/internal/hub"
	"github.com/jason-s-yu/livehub/internal/live"
	"github.com/jason-s-yu/livehub/internal/mocks"
	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	hub  *hub.Hub
	core *live.Core
	co   *Coordinator
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(store Store, events EventSink, cfg Config) *fixture {
	logger := quietLogger()
	h := hub.New(logger)
	core := live.NewCore(h)
	co := NewCoordinator(core, store, h, events, logger, cfg)
	co.NewRoomName = func() string { return "M" }
	return &fixture{hub: h, core: core, co: co}
}

func (f *fixture) connect(id models.ConnID) *hub.Conn {
	c := hub.NewConn(id, nil, 32, nil)
	f.hub.Register(c)
	return c
}

// own registers conn as owner of room and subscribes it there.
func (f *fixture) own(room string, id models.ConnID) *hub.Conn {
	c := f.connect(id)
	f.hub.Join(room, id)
	f.core.DeclareOwner(room, id, nil)
	return c
}

func drain(c *hub.Conn) []interface{} {
	var out []interface{}
	for {
		select {
		case m := <-c.OutChan:
			out = append(out, m)
		default:
			return out
		}
	}
}

func next(t *testing.T, c *hub.Conn) interface{} {
	t.Helper()
	select {
	case m := <-c.OutChan:
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message for %s", c.ID)
		return nil
	}
}

func TestRequestAcceptMerges(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	f := newFixture(store, nil, Config{InviteTimeout: time.Minute, StoreTimeout: time.Second})
	ctx := context.Background()

	a := f.own("X", "a")
	b := f.own("Y", "b")
	v := f.connect("v")
	f.hub.Join("X", "v")
	f.core.RecordReaction("X", "v", "fire")

	store.EXPECT().LookupOwnerIdentity(gomock.Any(), "X").Return(&models.Identity{AccountID: "ownerX"}, nil)
	store.EXPECT().LookupOwnerIdentity(gomock.Any(), "Y").Return(&models.Identity{AccountID: "ownerY"}, nil)
	gomock.InOrder(
		store.EXPECT().InsertMergedRoom(gomock.Any(), "ownerX", "M", "ownerX vs ownerY").Return(nil),
		store.EXPECT().RetireRooms(gomock.Any(), []string{"X", "Y"}).Return(nil),
	)

	require.NoError(t, f.co.Request(ctx, "a", "X", "Y"))
	assert.Equal(t, []interface{}{&models.BattleInviteMessage{
		Type: models.MsgBattleInvite, FromRoom: "X", TargetRoom: "Y", FromConnection: "a",
	}}, drain(b))
	s, ok := f.co.Pending("X", "Y")
	require.True(t, ok)
	assert.Equal(t, StateInvited, s.State)
	assert.Equal(t, models.ConnID("b"), s.Target)

	require.NoError(t, f.co.Respond(ctx, "b", "X", "Y", true))
	_, ok = f.co.Pending("X", "Y")
	assert.False(t, ok)

	start := &models.BattleOutcomeMessage{Type: models.MsgBattleStart, MergedRoom: "M", LeftOwner: "ownerX", RightOwner: "ownerY"}
	merged := &models.BattleOutcomeMessage{Type: models.MsgBattleMerged, MergedRoom: "M", LeftOwner: "ownerX", RightOwner: "ownerY"}
	assert.Equal(t, []interface{}{
		&models.BattleResponseMessage{Type: models.MsgBattleResponse, FromRoom: "X", TargetRoom: "Y", Accept: lo.ToPtr(true)},
		start,
		merged,
	}, drain(a))
	assert.Equal(t, []interface{}{start, merged}, drain(b))
	assert.Equal(t, []interface{}{merged}, drain(v))

	votes, ok := f.core.Votes("M")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"ownerX": 0, "ownerY": 0}, votes.Counts)
	assert.Equal(t, 1, f.core.Reactions("M").Counts["fire"])
	assert.False(t, f.core.NegotiationEnabled("M"))

	f.co.Vote(ctx, "v", "M", "ownerX")
	snap := f.co.Vote(ctx, "a", "M", "ownerX")
	assert.Equal(t, map[string]int{"ownerX": 2, "ownerY": 0}, snap.Counts)
	assert.Equal(t, 2, snap.Total)

	// both sources are gone from the registry
	c := f.connect("c")
	require.NoError(t, f.co.Request(ctx, "c", "Q", "X"))
	assert.Equal(t, []interface{}{&models.BattleErrorMessage{
		Type: models.MsgBattleError, Reason: models.ReasonTargetNotFound, TargetRoom: "X",
	}}, drain(c))
}

func TestRejectRelaysExactlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	events := mocks.NewMockEventSink(ctrl)
	f := newFixture(store, events, Config{InviteTimeout: time.Minute})
	ctx := context.Background()

	var kinds []string
	events.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev models.BattleEvent) error {
		kinds = append(kinds, ev.Kind)
		return nil
	}).Times(2)

	a := f.own("X", "a")
	b := f.own("Y", "b")

	require.NoError(t, f.co.Request(ctx, "a", "X", "Y"))
	drain(b)
	require.NoError(t, f.co.Respond(ctx, "b", "X", "Y", false))

	assert.Equal(t, []interface{}{
		&models.BattleResponseMessage{Type: models.MsgBattleResponse, FromRoom: "X", TargetRoom: "Y", Accept: lo.ToPtr(false)},
	}, drain(a))
	assert.Empty(t, drain(b))
	assert.Equal(t, []string{models.BattleEventInvite, models.BattleEventResponse}, kinds)

	_, ok := f.core.Votes("M")
	assert.False(t, ok)
	assert.True(t, f.core.NegotiationEnabled("X"))
	_, ok = f.co.Pending("X", "Y")
	assert.False(t, ok)
}

func TestRequestUnknownTarget(t *testing.T) {
	f := newFixture(nil, nil, Config{})
	a := f.own("X", "a")

	require.NoError(t, f.co.Request(context.Background(), "a", "X", "nowhere"))
	assert.Equal(t, []interface{}{&models.BattleErrorMessage{
		Type: models.MsgBattleError, Reason: models.ReasonTargetNotFound, TargetRoom: "nowhere",
	}}, drain(a))
	_, ok := f.co.Pending("X", "nowhere")
	assert.False(t, ok)
}

func TestRequestDisabledTarget(t *testing.T) {
	f := newFixture(nil, nil, Config{})
	a := f.own("X", "a")
	b := f.own("Y", "b")
	require.NoError(t, f.core.SetNegotiation("Y", "b", false))

	require.NoError(t, f.co.Request(context.Background(), "a", "X", "Y"))
	assert.Equal(t, []interface{}{&models.BattleErrorMessage{
		Type: models.MsgBattleError, Reason: models.ReasonTargetDisabled, TargetRoom: "Y",
	}}, drain(a))
	assert.Empty(t, drain(b))
}

func TestRequestOwnRoomIsProtocolError(t *testing.T) {
	f := newFixture(nil, nil, Config{})
	f.own("X", "a")
	err := f.co.Request(context.Background(), "a", "X", "X")
	assert.ErrorIs(t, err, models.ErrProtocol)
}

func TestInviteExpiresAfterTimeout(t *testing.T) {
	f := newFixture(nil, nil, Config{InviteTimeout: 20 * time.Millisecond})
	a := f.own("X", "a")
	b := f.own("Y", "b")

	require.NoError(t, f.co.Request(context.Background(), "a", "X", "Y"))
	expired := &models.BattleExpiredMessage{
		Type: models.MsgBattleExpired, FromRoom: "X", TargetRoom: "Y", Reason: models.ExpiredTimeout,
	}
	assert.Equal(t, expired, next(t, a))
	assert.IsType(t, &models.BattleInviteMessage{}, next(t, b))
	assert.Equal(t, expired, next(t, b))

	_, ok := f.co.Pending("X", "Y")
	assert.False(t, ok)
}

func TestReinviteReplacesSession(t *testing.T) {
	f := newFixture(nil, nil, Config{InviteTimeout: 50 * time.Millisecond})
	a := f.own("X", "a")
	f.own("Y", "b")
	ctx := context.Background()

	require.NoError(t, f.co.Request(ctx, "a", "X", "Y"))
	first, _ := f.co.Pending("X", "Y")
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, f.co.Request(ctx, "a", "X", "Y"))
	second, ok := f.co.Pending("X", "Y")
	require.True(t, ok)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	// only the replacement expires
	assert.IsType(t, &models.BattleExpiredMessage{}, next(t, a))
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, drain(a))
}

func TestDisconnectExpiresInvite(t *testing.T) {
	f := newFixture(nil, nil, Config{InviteTimeout: time.Minute})
	a := f.own("X", "a")
	f.own("Y", "b")

	require.NoError(t, f.co.Request(context.Background(), "a", "X", "Y"))
	f.hub.Unregister("b")
	f.core.Disconnect("b")
	f.co.DropConnection("b")

	assert.Equal(t, []interface{}{&models.BattleExpiredMessage{
		Type: models.MsgBattleExpired, FromRoom: "X", TargetRoom: "Y", Reason: models.ExpiredDisconnect,
	}}, drain(a))
	_, ok := f.co.Pending("X", "Y")
	assert.False(t, ok)
}

func TestRespondFromBystanderIsForbidden(t *testing.T) {
	f := newFixture(nil, nil, Config{InviteTimeout: time.Minute})
	f.own("X", "a")
	f.own("Y", "b")
	f.connect("v")
	f.hub.Join("Y", "v")

	require.NoError(t, f.co.Request(context.Background(), "a", "X", "Y"))
	err := f.co.Respond(context.Background(), "v", "X", "Y", true)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, ok := f.co.Pending("X", "Y")
	assert.True(t, ok)
}

func TestStoreFailuresFallBackToRoomNames(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	f := newFixture(store, nil, Config{InviteTimeout: time.Minute, StoreTimeout: time.Second})
	ctx := context.Background()

	a := f.own("X", "a")
	f.own("Y", "b")

	store.EXPECT().LookupOwnerIdentity(gomock.Any(), "X").Return(nil, errors.New("connection refused"))
	store.EXPECT().LookupOwnerIdentity(gomock.Any(), "Y").Return(nil, nil)
	store.EXPECT().InsertMergedRoom(gomock.Any(), "X", "M", "X vs Y").Return(errors.New("connection refused"))
	store.EXPECT().RetireRooms(gomock.Any(), []string{"X", "Y"}).Return(errors.New("connection refused"))

	require.NoError(t, f.co.Request(ctx, "a", "X", "Y"))
	require.NoError(t, f.co.Respond(ctx, "b", "X", "Y", true))

	votes, ok := f.core.Votes("M")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"X": 0, "Y": 0}, votes.Counts)
	msgs := drain(a)
	require.Len(t, msgs, 3)
	assert.Equal(t, "X", msgs[1].(*models.BattleOutcomeMessage).LeftOwner)
}

func TestLateAcceptStillMerges(t *testing.T) {
	f := newFixture(nil, nil, Config{})
	a := f.own("X", "a")
	f.own("Y", "b")

	require.NoError(t, f.co.Respond(context.Background(), "b", "X", "Y", true))
	msgs := drain(a)
	require.Len(t, msgs, 3)
	assert.Equal(t, &models.BattleResponseMessage{Type: models.MsgBattleResponse, FromRoom: "X", TargetRoom: "Y", Accept: lo.ToPtr(true)}, msgs[0])
	_, ok := f.core.Votes("M")
	assert.True(t, ok)
}

func TestSameOwnerKeysAreDisambiguated(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	f := newFixture(store, nil, Config{})
	f.own("X", "a")
	f.own("Y", "b")

	store.EXPECT().LookupOwnerIdentity(gomock.Any(), gomock.Any()).Return(&models.Identity{AccountID: "same"}, nil).Times(2)
	store.EXPECT().InsertMergedRoom(gomock.Any(), "X", "M", "X vs Y").Return(nil)
	store.EXPECT().RetireRooms(gomock.Any(), gomock.Any()).Return(nil)

	require.NoError(t, f.co.Respond(context.Background(), "b", "X", "Y", true))
	votes, _ := f.core.Votes("M")
	assert.Equal(t, map[string]int{"X": 0, "Y": 0}, votes.Counts)
}

func TestMergedRoomCannotBeMergedAgain(t *testing.T) {
	f := newFixture(nil, nil, Config{InviteTimeout: time.Minute})
	ctx := context.Background()
	names := []string{"M", "M2"}
	f.co.NewRoomName = func() string {
		n := names[0]
		names = names[1:]
		return n
	}

	f.own("X", "a")
	f.own("Y", "b")
	require.NoError(t, f.co.Respond(ctx, "b", "X", "Y", true))
	_, ok := f.core.Votes("M")
	require.True(t, ok)

	z := f.own("Z", "z")
	v := f.connect("v")
	f.hub.Join("M", "v")
	drain(z)
	drain(v)

	err := f.co.Request(ctx, "v", "M", "Z")
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.Empty(t, drain(z))
	_, ok = f.co.Pending("M", "Z")
	assert.False(t, ok)

	err = f.co.Request(ctx, "v", "X", "Z")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// an unsolicited accept from the target still cannot fold M away
	require.NoError(t, f.co.Respond(ctx, "z", "M", "Z", true))
	assert.Contains(t, drain(z), &models.BattleErrorMessage{
		Type: models.MsgBattleError, Reason: models.ReasonTargetNotFound, TargetRoom: "M",
	})
	_, ok = f.core.Votes("M2")
	assert.False(t, ok)
	assert.Empty(t, f.core.View("M").MergedInto)
}

func TestSettledStateIsLogged(t *testing.T) {
	f := newFixture(nil, nil, Config{InviteTimeout: time.Minute})
	logger, hook := test.NewNullLogger()
	f.co.logger = logger
	ctx := context.Background()

	f.own("X", "a")
	f.own("Y", "b")
	f.own("Z", "c")

	require.NoError(t, f.co.Request(ctx, "a", "X", "Z"))
	require.NoError(t, f.co.Respond(ctx, "c", "X", "Z", false))
	require.NoError(t, f.co.Request(ctx, "a", "X", "Y"))
	require.NoError(t, f.co.Respond(ctx, "b", "X", "Y", true))

	var states []State
	for _, e := range hook.AllEntries() {
		if e.Message == "battle settled" {
			states = append(states, e.Data["state"].(State))
			assert.Equal(t, true, e.Data["invited"])
		}
	}
	assert.Equal(t, []State{StateRejected, StateMerged}, states)
	assert.Equal(t, "merged", StateMerged.String())
}
