package live

import (
	"sort"
	"sync"

	"github.com/jason-s-yu/livehub/internal/models"
)

// fakePresence stands in for the hub in unit tests.
type fakePresence struct {
	mu      sync.Mutex
	alive   map[models.ConnID]bool
	members map[string]map[models.ConnID]bool
}

func newFakePresence(conns ...models.ConnID) *fakePresence {
	p := &fakePresence{
		alive:   make(map[models.ConnID]bool),
		members: make(map[string]map[models.ConnID]bool),
	}
	for _, c := range conns {
		p.alive[c] = true
	}
	return p
}

func (p *fakePresence) join(room string, conns ...models.ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[room] == nil {
		p.members[room] = make(map[models.ConnID]bool)
	}
	for _, c := range conns {
		p.alive[c] = true
		p.members[room][c] = true
	}
}

func (p *fakePresence) kill(conn models.ConnID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.alive, conn)
	for _, m := range p.members {
		delete(m, conn)
	}
}

func (p *fakePresence) Alive(conn models.ConnID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[conn]
}

func (p *fakePresence) Members(room string) []models.ConnID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ConnID, 0, len(p.members[room]))
	for c := range p.members[room] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *fakePresence) Count(room string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members[room])
}
