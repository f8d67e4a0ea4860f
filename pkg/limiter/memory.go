package limiter

import (
	"context"
	"sync"
	"time"
)

// timestampLog is the request log for one window of one key.
type timestampLog struct {
	stamps   []int64 // unix milliseconds
	window   int64   // ms, used for idle expiry
	lastSeen int64
}

// MemoryLimiter is an in-process sliding-window limiter. It enforces the
// same semantics as RedisLimiter but its state is local to one process, so
// it is only suitable for development, tests, and single-instance
// deployments.
type MemoryLimiter struct {
	mu   sync.Mutex
	logs map[string]*timestampLog
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		logs: make(map[string]*timestampLog),
	}
}

// TryAcquire implements Limiter. The mutex makes prune-count-insert
// indivisible, mirroring the single script execution of the Redis backend.
func (l *MemoryLimiter) TryAcquire(_ context.Context, key string, quotas []Quota, now time.Time) (*Decision, error) {
	if err := validateQuotas(quotas); err != nil {
		return nil, err
	}

	nowMs := now.UnixMilli()
	keys := windowKeys(key, len(quotas))

	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make([]int64, len(quotas))
	admitted := true

	for i, q := range quotas {
		log := l.logs[keys[i]]
		if log == nil {
			log = &timestampLog{window: q.Window.Milliseconds()}
			l.logs[keys[i]] = log
		}

		log.prune(nowMs - q.Window.Milliseconds())
		counts[i] = int64(len(log.stamps))
		if counts[i] >= q.MaxRequests {
			admitted = false
		}
	}

	if admitted {
		for i, q := range quotas {
			log := l.logs[keys[i]]
			log.stamps = append(log.stamps, nowMs)
			log.lastSeen = nowMs
			log.window = q.Window.Milliseconds()
			counts[i]++
		}
	}

	decision := &Decision{
		Admitted: admitted,
		Usages:   make([]Usage, 0, len(quotas)),
	}

	for i, q := range quotas {
		remaining := q.MaxRequests - counts[i]
		if remaining < 0 {
			remaining = 0
		}

		oldest := nowMs
		for _, s := range l.logs[keys[i]].stamps {
			if s < oldest {
				oldest = s
			}
		}

		decision.Usages = append(decision.Usages, Usage{
			Quota:     q,
			Remaining: remaining,
			ResetAt:   time.UnixMilli(oldest + q.Window.Milliseconds()).UTC(),
		})
	}

	return decision, nil
}

func (t *timestampLog) prune(cutoff int64) {
	kept := t.stamps[:0]
	for _, s := range t.stamps {
		if s > cutoff {
			kept = append(kept, s)
		}
	}
	t.stamps = kept
}

// Cleanup removes keys that have been idle for at least their own window,
// mirroring the store-side TTL of the Redis backend.
func (l *MemoryLimiter) Cleanup(now time.Time) {
	nowMs := now.UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, log := range l.logs {
		if log.lastSeen+log.window <= nowMs {
			delete(l.logs, key)
		}
	}
}

// StartJanitor launches a goroutine that cleans idle keys periodically.
// It stops when the context is canceled.
func (l *MemoryLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup(time.Now())
			}
		}
	}()
}

// keyCount reports the number of live keys. Test hook.
func (l *MemoryLimiter) keyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.logs)
}
