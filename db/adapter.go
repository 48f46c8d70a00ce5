// Package db opens the relational store that backs the audit trail.
package db

import (
	"fmt"

	"github.com/kasuganosora/realmcore/config"
	dbmysql "github.com/kasuganosora/realmcore/db/mysql"
	dbsqlite "github.com/kasuganosora/realmcore/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"

	// MemoryDSN is an in-process SQLite database, used by tests.
	MemoryDSN = "file::memory:"
)

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, dbmysql.Pool{
			MaxOpen: cfg.MySQLMaxOpen,
			MaxIdle: cfg.MySQLMaxIdle,
			MaxLife: cfg.MySQLMaxLife,
		})
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
