package service

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults for chronic-failure suppression on scheduled passes. The
// cooldown spans several default sync intervals so a quarantined item
// actually sits out passes.
const (
	DefaultFailureThreshold = 3
	DefaultFailureCooldown  = 6 * time.Hour
)

type strike struct {
	consecutive int
	lastError   string
	heldUntil   time.Time // zero until consecutive reaches the threshold
}

// quarantine keeps items that keep failing out of scheduled passes.
//
// Consecutive failures are counted however far apart the passes are; only
// a success resets the count. Reaching the threshold holds the item for
// cooldown after its latest failure. When the hold lapses the item gets
// one attempt, and failing it holds the item again.
type quarantine struct {
	mu        sync.Mutex
	strikes   map[int64]*strike
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	nowFunc   func() time.Time
}

func newQuarantine(threshold int, cooldown time.Duration, logger *slog.Logger) *quarantine {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultFailureCooldown
	}

	return &quarantine{
		strikes:   make(map[int64]*strike),
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// holds reports whether a scheduled pass should leave the item out.
func (q *quarantine) holds(itemID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.strikes[itemID]
	return ok && q.nowFunc().Before(s.heldUntil)
}

func (q *quarantine) fail(itemID int64, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.strikes[itemID]
	if !ok {
		s = &strike{}
		q.strikes[itemID] = s
	}
	s.consecutive++
	s.lastError = reason

	if s.consecutive < q.threshold {
		return
	}

	s.heldUntil = q.nowFunc().Add(q.cooldown)
	q.logger.Warn("item held back from scheduled syncs",
		slog.Int64("item_id", itemID),
		slog.Int("consecutive_failures", s.consecutive),
		slog.String("last_error", reason),
		slog.Time("retry_at", s.heldUntil),
	)
}

func (q *quarantine) release(itemID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.strikes, itemID)
}

// size returns how many items are held right now.
func (q *quarantine) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFunc()
	n := 0
	for _, s := range q.strikes {
		if now.Before(s.heldUntil) {
			n++
		}
	}
	return n
}
