// Package historian drains the battle event queue into Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/livehub/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// WriteFunc persists one batch. database.InsertBattleEvents in production.
type WriteFunc func(ctx context.Context, events []models.BattleEvent) error

type Config struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	// PopTimeout bounds each BLPop so shutdown is noticed.
	PopTimeout time.Duration
}

// Service pops events from Redis and flushes them when the batch is full or
// the flush ticker fires, whichever comes first.
type Service struct {
	client redis.Cmdable
	write  WriteFunc
	cfg    Config
	logger *logrus.Logger

	batchMu sync.Mutex
	batch   []models.BattleEvent
}

func New(client redis.Cmdable, write WriteFunc, cfg Config, logger *logrus.Logger) *Service {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 20
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = 500 * time.Millisecond
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 3 * time.Second
	}
	return &Service{
		client: client,
		write:  write,
		cfg:    cfg,
		logger: logger,
		batch:  make([]models.BattleEvent, 0, cfg.BatchSize),
	}
}

// Run blocks until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushDelay)
	defer ticker.Stop()
	s.logger.WithField("queue", s.cfg.Queue).Info("historian started")
	defer func() {
		s.Flush(context.WithoutCancel(ctx))
		s.logger.Info("historian stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		default:
		}

		res, err := s.client.BLPop(ctx, s.cfg.PopTimeout, s.cfg.Queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				s.logger.WithError(err).Error("BLPop failed")
				time.Sleep(s.cfg.FlushDelay)
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload.
		if len(res) < 2 {
			continue
		}
		ev, err := Decode([]byte(res[1]))
		if err != nil {
			s.logger.WithError(err).Warn("dropping unreadable event")
			continue
		}
		s.Add(ctx, ev)
	}
}

// Decode parses one queued event.
func Decode(payload []byte) (models.BattleEvent, error) {
	var ev models.BattleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("invalid battle event: %w", err)
	}
	if ev.Kind == "" {
		return ev, errors.New("invalid battle event: missing kind")
	}
	return ev, nil
}

// Add appends ev and flushes once the batch is full.
func (s *Service) Add(ctx context.Context, ev models.BattleEvent) {
	s.batchMu.Lock()
	s.batch = append(s.batch, ev)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Flush writes the pending batch. A failed batch is logged and dropped.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := make([]models.BattleEvent, len(s.batch))
	copy(pending, s.batch)
	s.batch = s.batch[:0]
	s.batchMu.Unlock()

	if err := s.write(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("events", len(pending)).Error("flush failed")
		return
	}
	s.logger.WithField("events", len(pending)).Debug("flushed battle events")
}

// Pending reports how many events wait for the next flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}
