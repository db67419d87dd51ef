package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"formgate/internal/dataType"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultMaxAttempts    = 5
	defaultLockoutMinutes = 15
	defaultWindowMinutes  = 60

	// Accumulating entries older than a day are garbage regardless of the
	// configured window.
	accumulatorMaxAge = 24 * time.Hour

	attemptsKeyPrefix = "ratelimit:attempts:"
	lockoutKeyPrefix  = "ratelimit:lockout:"

	lockStripes = 64
)

// Config are the limiter settings as configured; non-positive values fall
// back to the defaults at construction.
type Config struct {
	Enabled        bool
	MaxAttempts    int
	LockoutMinutes int
	WindowMinutes  int
}

// Limiter tracks failed verifications per client IP inside a sliding window
// and locks the IP out for a fixed period once the attempt budget is spent.
//
// State machine per IP: Clean -> Accumulating(count, windowStart) ->
// LockedOut(expiry) -> Clean (lazily, after expiry). Creating a lockout
// clears the accumulator so a fresh count starts once the lockout ends.
//
// The window update is a read-modify-write on shared state; a striped per-key
// mutex serializes it so concurrent failures from one IP cannot overshoot
// MaxAttempts.
type Limiter struct {
	cfg       Config
	store     dataType.Store
	allowlist *dataType.IPList
	now       func() time.Time
	stripes   [lockStripes]sync.Mutex
}

// NewLimiter builds a limiter over the given store. allowlist may be nil;
// now may be nil to use the wall clock.
func NewLimiter(cfg Config, store dataType.Store, allowlist *dataType.IPList, now func() time.Time) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.LockoutMinutes <= 0 {
		cfg.LockoutMinutes = defaultLockoutMinutes
	}
	if cfg.WindowMinutes <= 0 {
		cfg.WindowMinutes = defaultWindowMinutes
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{cfg: cfg, store: store, allowlist: allowlist, now: now}
}

func (l *Limiter) stripe(ip string) *sync.Mutex {
	return &l.stripes[xxhash.Sum64String(ip)%lockStripes]
}

// IsLockedOut reports whether ip is inside an active lockout. An expired
// lockout entry is deleted on the spot.
func (l *Limiter) IsLockedOut(ctx context.Context, ip string) bool {
	if !l.cfg.Enabled {
		return false
	}
	val, ok, err := l.store.Get(ctx, lockoutKeyPrefix+ip)
	if err != nil || !ok {
		return false
	}
	expiry, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		_ = l.store.Delete(ctx, lockoutKeyPrefix+ip)
		return false
	}
	if l.now().Unix() >= expiry {
		_ = l.store.Delete(ctx, lockoutKeyPrefix+ip)
		return false
	}
	return true
}

// LockoutRemaining returns how long the active lockout for ip still lasts,
// or zero when there is none.
func (l *Limiter) LockoutRemaining(ctx context.Context, ip string) time.Duration {
	if !l.cfg.Enabled {
		return 0
	}
	val, ok, err := l.store.Get(ctx, lockoutKeyPrefix+ip)
	if err != nil || !ok {
		return 0
	}
	expiry, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	remaining := expiry - l.now().Unix()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * time.Second
}

// RecordFailure counts one failed verification for ip. Returns true when this
// failure crossed the threshold and created a lockout. No-op for disabled
// limiting and allowlisted addresses.
func (l *Limiter) RecordFailure(ctx context.Context, ip string) bool {
	if !l.cfg.Enabled {
		return false
	}
	if l.allowlist != nil && l.allowlist.Match(ip) {
		return false
	}

	mu := l.stripe(ip)
	mu.Lock()
	defer mu.Unlock()

	now := l.now().Unix()

	// An active lockout freezes the accumulator: nothing counts until the
	// lockout has expired on its own.
	if val, ok, err := l.store.Get(ctx, lockoutKeyPrefix+ip); err == nil && ok {
		if expiry, perr := strconv.ParseInt(val, 10, 64); perr == nil && now < expiry {
			return false
		}
	}

	count, windowStart := l.readAttempts(ctx, ip)
	if count == 0 || now-windowStart >= l.windowSeconds() {
		count = 1
		windowStart = now
	} else {
		count++
	}

	if count >= l.cfg.MaxAttempts {
		expiry := now + int64(l.cfg.LockoutMinutes)*60
		_ = l.store.Set(ctx, lockoutKeyPrefix+ip, strconv.FormatInt(expiry, 10),
			time.Duration(l.cfg.LockoutMinutes)*time.Minute)
		_ = l.store.Delete(ctx, attemptsKeyPrefix+ip)
		return true
	}

	_ = l.store.Set(ctx, attemptsKeyPrefix+ip, encodeAttempts(count, windowStart), accumulatorMaxAge)
	return false
}

// RecordSuccess clears the accumulating entry for ip. An active lockout is
// left alone: it must expire on its own.
func (l *Limiter) RecordSuccess(ctx context.Context, ip string) {
	if !l.cfg.Enabled {
		return
	}
	mu := l.stripe(ip)
	mu.Lock()
	defer mu.Unlock()
	_ = l.store.Delete(ctx, attemptsKeyPrefix+ip)
}

// RemainingAttempts returns how many more failures ip can afford before
// lockout, clamped at zero. Unlimited when the limiter is disabled.
func (l *Limiter) RemainingAttempts(ctx context.Context, ip string) int {
	if !l.cfg.Enabled {
		return math.MaxInt
	}
	count, windowStart := l.readAttempts(ctx, ip)
	if count == 0 || l.now().Unix()-windowStart >= l.windowSeconds() {
		return l.cfg.MaxAttempts
	}
	remaining := l.cfg.MaxAttempts - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cleanup sweeps expired lockouts and stale accumulating entries. Intended
// for a periodic ticker, not the request path.
func (l *Limiter) Cleanup(ctx context.Context) {
	now := l.now().Unix()
	_ = l.store.ForEach(ctx, lockoutKeyPrefix, func(key, val string) error {
		expiry, err := strconv.ParseInt(val, 10, 64)
		if err != nil || expiry <= now {
			_ = l.store.Delete(ctx, key)
		}
		return nil
	})
	_ = l.store.ForEach(ctx, attemptsKeyPrefix, func(key, val string) error {
		_, windowStart := decodeAttempts(val)
		if now-windowStart >= int64(accumulatorMaxAge/time.Second) {
			_ = l.store.Delete(ctx, key)
		}
		return nil
	})
}

// StartSweep runs Cleanup on a ticker until stopCh closes.
func StartSweep(l *Limiter, interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Cleanup(context.Background())
		case <-stopCh:
			return
		}
	}
}

func (l *Limiter) windowSeconds() int64 {
	return int64(l.cfg.WindowMinutes) * 60
}

func (l *Limiter) readAttempts(ctx context.Context, ip string) (count int, windowStart int64) {
	val, ok, err := l.store.Get(ctx, attemptsKeyPrefix+ip)
	if err != nil || !ok {
		return 0, 0
	}
	return decodeAttempts(val)
}

func encodeAttempts(count int, windowStart int64) string {
	return fmt.Sprintf("%d:%d", count, windowStart)
}

func decodeAttempts(val string) (count int, windowStart int64) {
	parts := strings.SplitN(val, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	c, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	ws, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0
	}
	return c, ws
}
