package redis

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"tiered-cache/internal/common/errors"
	"tiered-cache/internal/common/logging"
)

const (
	// lockLeaseTime is the TTL stamped on the lock key; the watchdog renews it
	// while the owner is alive, so holders never pick a lease themselves.
	lockLeaseTime = 30 * time.Second

	lockRetryInterval = 25 * time.Millisecond
)

var lockRenewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var lockReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lock is a distributed mutex over a single Redis key. Each Lock instance
// owns a random token; only the instance that acquired the key can renew or
// release it.
type Lock struct {
	client *Client
	key    string
	token  string
	logger logging.Logger

	mu       sync.Mutex
	held     bool
	stopOnce *sync.Once
	stop     chan struct{}
}

// NewLock creates a lock handle for the given key. Nothing is acquired until
// TryLock succeeds.
func (c *Client) NewLock(key string) *Lock {
	return &Lock{
		client: c,
		key:    key,
		token:  uuid.NewString(),
		logger: c.logger.WithFields(logging.Field{Key: "lock_key", Value: key}),
	}
}

// TryLock attempts to acquire the lock, retrying until wait has elapsed.
// It returns (false, nil) on timeout and an error only when the attempt was
// cancelled or Redis failed.
func (l *Lock) TryLock(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.client.rdb.SetNX(ctx, l.key, l.token, lockLeaseTime).Result()
		if err != nil {
			return false, errors.ConnectionError("failed to acquire lock", err).WithContext("lock_key", l.key)
		}
		if ok {
			l.startWatchdog()
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		sleep := lockRetryInterval
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Held reports whether this instance currently believes it owns the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Unlock releases the lock if this instance still owns it. Releasing a lock
// that was lost or never acquired is a no-op.
func (l *Lock) Unlock(ctx context.Context) error {
	l.stopWatchdog()

	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()
	if !held {
		return nil
	}

	released, err := lockReleaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return errors.ConnectionError("failed to release lock", err).WithContext("lock_key", l.key)
	}
	if released == 0 {
		l.logger.Debug("Lock already lost at release")
	}
	return nil
}

func (l *Lock) startWatchdog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	l.stop = make(chan struct{})
	l.stopOnce = &sync.Once{}

	stop := l.stop
	go func() {
		ticker := time.NewTicker(lockLeaseTime / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !l.renew() {
					return
				}
			}
		}
	}()
}

func (l *Lock) stopWatchdog() {
	l.mu.Lock()
	stopOnce, stop := l.stopOnce, l.stop
	l.mu.Unlock()
	if stopOnce != nil {
		stopOnce.Do(func() { close(stop) })
	}
}

func (l *Lock) renew() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	renewed, err := lockRenewScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, lockLeaseTime.Milliseconds()).Int()
	if err != nil {
		l.logger.Warn("Lock renewal failed", logging.Field{Key: "error", Value: err.Error()})
		return true // transient failure, keep trying until the lease runs out
	}
	if renewed == 0 {
		l.logger.Warn("Lock lost, stopping watchdog")
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
		return false
	}
	return true
}
