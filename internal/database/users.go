package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/livehub/internal/models"
)

// GetUserByID returns the user, or nil when the id is unknown.
func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	db, err := pool()
	if err != nil {
		return nil, err
	}
	var u models.User
	err = db.QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %v: %w", id, err)
	}
	return &u, nil
}
