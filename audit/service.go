// Package audit keeps an append-only trail of economy-relevant events
// (trade commits, guild membership, deaths, rejected ledger updates).
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/realmcore/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions written by the core.
const (
	ActionTrade          = "trade.commit"
	ActionGuildJoin      = "guild.join"
	ActionGuildLeave     = "guild.leave"
	ActionGuildCreate    = "guild.create"
	ActionDeath          = "character.death"
	ActionLedgerConflict = "ledger.conflict"
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID       string
	AccountID     *int64
	CounterpartID *int64
	Actor         string
	Action        string
	Detail        interface{}
	Error         string
	IP            string
	World         string
}

// Recorder is the sink the game services write to.
type Recorder interface {
	Log(entry Entry)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Log(Entry) {}

// ID is a helper for the optional id fields of Entry.
func ID(v int64) *int64 { return &v }

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry Entry) {
	var detail datatypes.JSON
	if entry.Detail != nil {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			svc.logger.Warn("audit detail not encodable",
				zap.String("action", entry.Action), zap.Error(err))
		} else {
			detail = datatypes.JSON(b)
		}
	}
	record := &model.AuditLog{
		TraceID:       entry.TraceID,
		AccountID:     entry.AccountID,
		CounterpartID: entry.CounterpartID,
		Actor:         entry.Actor,
		Action:        entry.Action,
		Detail:        detail,
		Error:         entry.Error,
		IP:            entry.IP,
		World:         entry.World,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
