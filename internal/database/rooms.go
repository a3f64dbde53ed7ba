package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/livehub/internal/models"
)

// LookupOwnerIdentity returns the owner of the most recently updated record
// named room. A room without a record, or whose record has no owner, yields
// nil and no error.
func LookupOwnerIdentity(ctx context.Context, room string) (*models.Identity, error) {
	db, err := pool()
	if err != nil {
		return nil, err
	}
	q := `
	SELECT u.id, u.username
	FROM rooms r
	JOIN users u ON u.id = r.owner_id
	WHERE r.name = $1
	ORDER BY r.updated_at DESC
	LIMIT 1
	`
	var id uuid.UUID
	var username string
	err = db.QueryRow(ctx, q, room).Scan(&id, &username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup owner of %q: %w", room, err)
	}
	return &models.Identity{AccountID: id.String(), DisplayName: username}, nil
}

// InsertMergedRoom records a battle room. ownerKey is stored as the owner
// only when it is an account id; fallback keys are room names.
func InsertMergedRoom(ctx context.Context, ownerKey, mergedRoom, title string) error {
	db, err := pool()
	if err != nil {
		return err
	}
	var owner *uuid.UUID
	if id, err := uuid.Parse(ownerKey); err == nil {
		owner = &id
	}

	q := `INSERT INTO rooms (id, owner_id, name, title, status, is_battle)
	      VALUES ($1, $2, $3, $4, $5, TRUE)`
	err = pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, uuid.New(), owner, mergedRoom, title, models.RoomStatusActive)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert merged room %q: %w", mergedRoom, err)
	}
	return nil
}

// RetireRooms marks every active record of the given rooms inactive.
func RetireRooms(ctx context.Context, rooms []string) error {
	db, err := pool()
	if err != nil {
		return err
	}
	q := `
	UPDATE rooms
	SET status = $2, updated_at = NOW()
	WHERE name = ANY($1) AND status = $3
	`
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, q, rooms, models.RoomStatusInactive, models.RoomStatusActive)
		if execErr != nil {
			return fmt.Errorf("retire rooms %v: %w", rooms, execErr)
		}
		return nil
	})
}

// GetRoom returns the latest record named room, or nil when none exists.
func GetRoom(ctx context.Context, room string) (*models.RoomRecord, error) {
	db, err := pool()
	if err != nil {
		return nil, err
	}
	q := `
	SELECT id, owner_id, name, title, status, is_battle, created_at, updated_at
	FROM rooms
	WHERE name = $1
	ORDER BY updated_at DESC
	LIMIT 1
	`
	var r models.RoomRecord
	err = db.QueryRow(ctx, q, room).Scan(
		&r.ID, &r.OwnerID, &r.Name, &r.Title, &r.Status, &r.IsBattle, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %q: %w", room, err)
	}
	return &r, nil
}

// Store adapts the package functions to the coordinator's store interface.
type Store struct{}

func (Store) LookupOwnerIdentity(ctx context.Context, room string) (*models.Identity, error) {
	return LookupOwnerIdentity(ctx, room)
}

func (Store) InsertMergedRoom(ctx context.Context, ownerKey, mergedRoom, title string) error {
	return InsertMergedRoom(ctx, ownerKey, mergedRoom, title)
}

func (Store) RetireRooms(ctx context.Context, rooms []string) error {
	return RetireRooms(ctx, rooms)
}
