package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records economy-relevant actions: trades, guild membership,
// deaths and rejected currency updates.
type AuditLog struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID       string         `gorm:"index:idx_audit_trace;size:36" json:"trace_id"`
	AccountID     *int64         `gorm:"index:idx_audit_account" json:"account_id"`
	CounterpartID *int64         `json:"counterpart_id"`
	Actor         string         `gorm:"size:32" json:"actor"`
	Action        string         `gorm:"size:64;not null" json:"action"`
	Detail        datatypes.JSON `json:"detail"`
	Error         string         `gorm:"type:text" json:"error"`
	IP            string         `gorm:"size:45" json:"ip"`
	World         string         `gorm:"size:64" json:"world"`
	CreatedAt     time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
