package models

// ConnID is the opaque handle of one live websocket session.
type ConnID string

// Identity is the authenticated account behind a connection, when known.
type Identity struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// Key returns the string used to key vote tallies for this identity.
func (i *Identity) Key() string {
	if i == nil {
		return ""
	}
	return i.AccountID
}
