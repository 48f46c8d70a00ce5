package scheduler

import (
	"context"
	"time"

	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	"go.uber.org/zap"
)

// Intervals are the periods of the maintenance jobs. Zero disables a job.
type Intervals struct {
	LeaseRenew   time.Duration
	LegendsClean time.Duration
	Presence     time.Duration
}

// Maintenance holds the housekeeping jobs of a world server.
type Maintenance struct {
	Sessions *player.SessionManager
	Leases   *lease.Manager
	Legends  *ledger.Board
	Worlds   *world.Manager
	Logger   *zap.Logger
}

// Install registers every enabled job on s.
func (m *Maintenance) Install(s *Scheduler, iv Intervals) {
	if iv.LeaseRenew > 0 && m.Leases != nil {
		s.AddTicker("lease-renew", iv.LeaseRenew, func(ctx context.Context) { m.RenewLeases(ctx) })
	}
	if iv.LegendsClean > 0 && m.Legends != nil {
		s.AddTicker("legends-clean", iv.LegendsClean, func(ctx context.Context) { m.CleanLegends(ctx) })
	}
	if iv.Presence > 0 {
		s.AddTicker("presence", iv.Presence, m.LogPresence)
	}
}

// RenewLeases extends the lease of every connected account. A session
// whose lease is gone loses its token; it keeps playing but every later
// ledger write has to take the lease again.
func (m *Maintenance) RenewLeases(ctx context.Context) (renewed, lost int) {
	for _, s := range m.Sessions.All() {
		acc := s.Account()
		if acc.LockToken == "" {
			continue
		}
		ok, err := m.Leases.Renew(ctx, acc.ID, acc.LockToken)
		if err != nil {
			// The cache is unreachable; the next round retries before the TTL runs out.
			m.Logger.Error("lease renewal failed", zap.Int64("account_id", acc.ID), zap.Error(err))
			continue
		}
		if ok {
			renewed++
			continue
		}
		lost++
		cp := *acc
		cp.LockToken = ""
		s.SetAccount(&cp)
		m.Logger.Warn("lease lost, token cleared", zap.Int64("account_id", acc.ID))
	}
	return renewed, lost
}

// CleanLegends drops expired legends entries.
func (m *Maintenance) CleanLegends(ctx context.Context) int {
	n, err := m.Legends.Clean(ctx)
	if err != nil {
		m.Logger.Error("legends cleanup failed", zap.Error(err))
		return n
	}
	if n > 0 {
		m.Logger.Info("legends cleaned", zap.Int("removed", n))
	}
	return n
}

// LogPresence logs the connected session and running world counts.
func (m *Maintenance) LogPresence(_ context.Context) {
	worlds := 0
	if m.Worlds != nil {
		worlds = m.Worlds.ActiveCount()
	}
	m.Logger.Info("presence",
		zap.Int("sessions", m.Sessions.Count()),
		zap.Int("worlds", worlds))
}
