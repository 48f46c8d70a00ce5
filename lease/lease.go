// Package lease implements short-TTL exclusivity leases on top of the record
// store's conditional transactions. A lease is a string key holding a random
// token; only the holder of that token may renew or release it.
package lease

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/realmcore/cache"
	"go.uber.org/zap"
)

const (
	DefaultTTL = 60 * time.Second

	// Named global locks.
	RegLock  = "regLock"
	NameLock = "nameLock"

	releaseTimeout = 5 * time.Second
)

var (
	// ErrLocked is returned by the scoped helpers when another holder owns the lease.
	ErrLocked = errors.New("lease: already held")
	// ErrNotHeld is returned when an operation needs a lease the caller no longer owns.
	ErrNotHeld = errors.New("lease: not held")
)

// Key returns the lease key for an account.
func Key(accountID int64) string {
	return "lock:" + strconv.FormatInt(accountID, 10)
}

// Manager acquires, renews and releases leases.
type Manager struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewManager creates a Manager. A non-positive ttl selects DefaultTTL.
func NewManager(c cache.Cache, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{cache: c, ttl: ttl, logger: logger}
}

// TTL returns the lease lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	txn := cache.NewTxn().KeyNotExists(key)
	txn.Set(key, token, m.ttl)
	err := m.cache.Exec(ctx, txn)
	if errors.Is(err, cache.ErrConditionFailed) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (m *Manager) renew(ctx context.Context, key, token string) (bool, error) {
	txn := cache.NewTxn().StringEqual(key, token)
	txn.Expire(key, m.ttl)
	return m.guarded(ctx, txn)
}

func (m *Manager) release(ctx context.Context, key, token string) (bool, error) {
	txn := cache.NewTxn().StringEqual(key, token)
	txn.Del(key)
	return m.guarded(ctx, txn)
}

func (m *Manager) guarded(ctx context.Context, txn *cache.Txn) (bool, error) {
	err := m.cache.Exec(ctx, txn)
	if errors.Is(err, cache.ErrConditionFailed) {
		return false, nil
	}
	return err == nil, err
}

// Acquire takes the account lease if nobody holds it.
func (m *Manager) Acquire(ctx context.Context, accountID int64) (token string, ok bool, err error) {
	return m.acquire(ctx, Key(accountID))
}

// Renew extends the lease only while token still matches. false means the
// lease was lost (expired or taken over) and the caller must stop treating
// the account as locked.
func (m *Manager) Renew(ctx context.Context, accountID int64, token string) (bool, error) {
	return m.renew(ctx, Key(accountID), token)
}

// Release deletes the lease only while token still matches.
func (m *Manager) Release(ctx context.Context, accountID int64, token string) (bool, error) {
	return m.release(ctx, Key(accountID), token)
}

// ReleaseAsync releases in the background. It never blocks the caller;
// failures are logged.
func (m *Manager) ReleaseAsync(accountID int64, token string) {
	if token == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		ok, err := m.Release(ctx, accountID, token)
		if err != nil {
			m.logger.Warn("lease release failed",
				zap.Int64("account_id", accountID), zap.Error(err))
			return
		}
		if !ok {
			m.logger.Debug("lease already lost at release",
				zap.Int64("account_id", accountID))
		}
	}()
}

// Validate reports whether token is still the live lease value.
func (m *Manager) Validate(ctx context.Context, accountID int64, token string) (bool, error) {
	v, err := m.cache.Get(ctx, Key(accountID))
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == token, nil
}

// Exists reports whether anyone holds the account lease. A held lease is the
// account's online presence.
func (m *Manager) Exists(ctx context.Context, accountID int64) (bool, error) {
	return m.cache.Exists(ctx, Key(accountID))
}

// Remaining returns how long the account lease has left.
func (m *Manager) Remaining(ctx context.Context, accountID int64) (time.Duration, error) {
	return m.cache.TTL(ctx, Key(accountID))
}

// WithLock runs fn while holding the account lease and always releases it
// afterwards, including when fn panics.
func (m *Manager) WithLock(ctx context.Context, accountID int64, fn func(ctx context.Context, token string) error) error {
	return m.withKey(ctx, Key(accountID), fn)
}

// AcquireNamed takes a global named lock.
func (m *Manager) AcquireNamed(ctx context.Context, name string) (string, bool, error) {
	return m.acquire(ctx, name)
}

// ReleaseNamed releases a global named lock.
func (m *Manager) ReleaseNamed(ctx context.Context, name, token string) (bool, error) {
	return m.release(ctx, name, token)
}

// WithNamedLock is WithLock for a global named lock.
func (m *Manager) WithNamedLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.withKey(ctx, name, func(ctx context.Context, _ string) error { return fn(ctx) })
}

func (m *Manager) withKey(ctx context.Context, key string, fn func(ctx context.Context, token string) error) error {
	token, ok, err := m.acquire(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if _, err := m.release(rctx, key, token); err != nil {
			m.logger.Warn("scoped lease release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn(ctx, token)
}
