package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	puresqlite "github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"test-asset-service/internal/config"
	"test-asset-service/internal/models"
)

// Open connects to the configured database.
func Open(cfg config.DatabaseConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	if gormCfg == nil {
		gormCfg = &gorm.Config{}
	}
	gormCfg.TranslateError = true

	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite", "sqlite-nocgo":
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		if cfg.Type == "sqlite" {
			dialector = sqlite.Open(cfg.DSN)
		} else {
			dialector = puresqlite.Open(cfg.DSN)
		}
	case "mysql":
		dialector = gormmysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.Type)
	}

	if cfg.MaxOpenConns > 0 || isSQLite(db) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to access connection pool")
		}
		conns := cfg.MaxOpenConns
		if conns <= 0 {
			// sqlite allows a single writer; queueing in the pool beats SQLITE_BUSY.
			conns = 1
		}
		sqlDB.SetMaxOpenConns(conns)
	}

	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return nil
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is available.
func SupportsRowLocks(db *gorm.DB) bool {
	return !isSQLite(db)
}

func isSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// IsUniqueViolation reports whether err comes from a unique index.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func ensureDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create data directory")
	}
	return nil
}
