package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/livehub/internal/models"
)

// InsertBattleEvents writes a batch of queued negotiation events in one
// transaction.
func InsertBattleEvents(ctx context.Context, events []models.BattleEvent) error {
	db, err := pool()
	if err != nil {
		return err
	}
	q := `
	INSERT INTO battle_events (
		kind, from_room, target_room, merged_room, actor_conn, owner_key, accept, reason, occurred_at
	) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''), $9)
	`
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			batch.Queue(q,
				ev.Kind, ev.FromRoom, ev.TargetRoom, ev.MergedRoom, string(ev.ActorConn),
				ev.OwnerKey, ev.Accept, ev.Reason, time.UnixMilli(ev.Timestamp),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert %d battle events: %w", len(events), err)
		}
		return nil
	})
}
