// Package hub tracks live websocket connections and their room
// subscriptions, and performs fire-and-forget fan-out to them.
package hub

import (
	"sort"
	"sync"

	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Conn is a single live connection. Outbound messages are queued on OutChan
// and drained by the transport's write pump.
type Conn struct {
	ID       models.ConnID
	Identity *models.Identity
	OutChan  chan interface{}
	Cancel   func()

	done      chan struct{}
	closeOnce sync.Once
	logger    *logrus.Logger
}

// NewConn creates a connection with an outbound buffer of size buf.
func NewConn(id models.ConnID, identity *models.Identity, buf int, logger *logrus.Logger) *Conn {
	return &Conn{
		ID:       id,
		Identity: identity,
		OutChan:  make(chan interface{}, buf),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Write queues msg without blocking. It returns false if the connection is
// closed or its buffer is full, in which case the message is dropped.
func (c *Conn) Write(msg interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.OutChan <- msg:
		return true
	default:
		if c.logger != nil {
			c.logger.WithField("conn", c.ID).Warnf("outbound buffer full, dropped %T", msg)
		}
		return false
	}
}

// Done is closed once the connection has been unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.Cancel != nil {
			c.Cancel()
		}
	})
}

// Hub indexes live connections and room membership.
type Hub struct {
	mu     sync.RWMutex
	conns  map[models.ConnID]*Conn
	rooms  map[string]map[models.ConnID]*Conn
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Hub {
	return &Hub{
		conns:  make(map[models.ConnID]*Conn),
		rooms:  make(map[string]map[models.ConnID]*Conn),
		logger: logger,
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	h.logger.WithField("conn", c.ID).Debug("connection registered")
}

// Unregister forgets c, removes it from every room and returns the rooms it
// was subscribed to.
func (h *Hub) Unregister(id models.ConnID) []string {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(h.conns, id)
	var left []string
	for room, members := range h.rooms {
		if _, in := members[id]; in {
			delete(members, id)
			left = append(left, room)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	c.close()
	sort.Strings(left)
	h.logger.WithFields(logrus.Fields{"conn": id, "rooms": left}).Debug("connection unregistered")
	return left
}

func (h *Hub) Get(id models.ConnID) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Join subscribes a registered connection to room. It returns false if the
// connection is unknown.
func (h *Hub) Join(room string, id models.ConnID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[models.ConnID]*Conn)
		h.rooms[room] = members
	}
	members[id] = c
	return true
}

// Leave unsubscribes id from room and reports whether it was a member.
func (h *Hub) Leave(room string, id models.ConnID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, in := members[id]; !in {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	return true
}

func (h *Hub) Alive(id models.ConnID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// Members lists the connections subscribed to room in handle order.
func (h *Hub) Members(room string) []models.ConnID {
	h.mu.RLock()
	ids := lo.Keys(h.rooms[room])
	h.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// SendTo queues msg for one connection.
func (h *Hub) SendTo(id models.ConnID, msg interface{}) bool {
	c, ok := h.Get(id)
	if !ok {
		return false
	}
	return c.Write(msg)
}

// Broadcast queues msg for every member of room.
func (h *Hub) Broadcast(room string, msg interface{}) {
	h.BroadcastRooms([]string{room}, msg)
}

// BroadcastRooms queues msg once for every connection subscribed to any of
// rooms.
func (h *Hub) BroadcastRooms(rooms []string, msg interface{}) {
	h.mu.RLock()
	seen := make(map[models.ConnID]*Conn)
	for _, room := range rooms {
		for id, c := range h.rooms[room] {
			seen[id] = c
		}
	}
	h.mu.RUnlock()

	for _, c := range seen {
		c.Write(msg)
	}
}
