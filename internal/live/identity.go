package live

import "github.com/jason-s-yu/livehub/internal/models"

// IdentityMap attaches an optional authenticated identity to a connection.
type IdentityMap struct {
	m map[models.ConnID]models.Identity
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{m: make(map[models.ConnID]models.Identity)}
}

// Set overwrites any identity previously stored for conn.
func (im *IdentityMap) Set(conn models.ConnID, id models.Identity) {
	im.m[conn] = id
}

func (im *IdentityMap) Get(conn models.ConnID) (models.Identity, bool) {
	id, ok := im.m[conn]
	return id, ok
}

func (im *IdentityMap) Remove(conn models.ConnID) {
	delete(im.m, conn)
}
