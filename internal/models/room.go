package models

import (
	"time"

	"github.com/google/uuid"
)

// Room status values as stored in the rooms table.
const (
	RoomStatusActive   = "active"
	RoomStatusInactive = "inactive"
)

// RoomRecord is the durable row describing a room and its owner.
type RoomRecord struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   *uuid.UUID `json:"ownerId,omitempty"`
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	IsBattle  bool       `json:"isBattle"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// User is the subset of the users table the live service reads.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}
