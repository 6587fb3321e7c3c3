package session

import (
	"context"
	"time"
)

// sweepBatchSize bounds how many expired sessions one tick removes
const sweepBatchSize = 256

// StartSweeper launches the background TTL sweeper. It stops when the
// context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	interval := time.Duration(m.cfg.CleanupIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := m.SweepExpired(ctx)
				if err != nil {
					m.logger.Warn("session sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					m.logger.Info("expired sessions swept", "count", removed)
				}
			}
		}
	}()
}

// SweepExpired deletes sessions whose TTL has elapsed and returns how many
// were removed. Exposed so a tick can be forced without the ticker.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.repo.ListExpired(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	for _, session := range expired {
		lock := m.lockFor(session.ID)
		lock.Lock()
		m.evict(ctx, session)
		lock.Unlock()
	}
	return len(expired), nil
}
