package database

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"test-asset-service/internal/config"
	"test-asset-service/internal/models"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	for _, typ := range []string{"sqlite", "sqlite-nocgo"} {
		t.Run(typ, func(t *testing.T) {
			dsn := filepath.Join(t.TempDir(), "nested", "assets.db")
			db, err := Open(config.DatabaseConfig{Type: typ, DSN: dsn}, &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			require.NoError(t, err)
			require.NoError(t, Migrate(db))

			assert.False(t, SupportsRowLocks(db))
			assert.True(t, db.Migrator().HasTable(&models.Module{}))
			assert.True(t, db.Migrator().HasTable(&models.CaseReviewRecord{}))

			first := &models.TestCase{CaseID: "TC_1_1_001", Title: "a", ModuleID: 1, ProjectID: 1, Version: 1}
			require.NoError(t, db.Create(first).Error)
			dup := &models.TestCase{CaseID: "TC_1_1_001", Title: "b", ModuleID: 1, ProjectID: 1, Version: 1}
			err = db.Create(dup).Error
			require.Error(t, err)
			assert.True(t, IsUniqueViolation(err))
		})
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "oracle"}, nil)
	assert.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})))
	assert.False(t, IsUniqueViolation(&mysql.MySQLError{Number: 1452}))
	assert.False(t, IsUniqueViolation(gorm.ErrRecordNotFound))
}
