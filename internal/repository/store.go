package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"test-asset-service/internal/database"
)

// Store bundles the repositories that share one *gorm.DB, so a transaction
// can hand the whole set to a unit of work.
type Store struct {
	db *gorm.DB

	Modules ModuleRepository
	Cases   TestCaseRepository
	Steps   TestStepRepository
	Reviews ReviewRecordRepository
}

// NewStore 创建Store实例
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:      db,
		Modules: NewModuleRepository(db),
		Cases:   NewTestCaseRepository(db),
		Steps:   NewTestStepRepository(db),
		Reviews: NewReviewRecordRepository(db),
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithContext returns a Store whose queries carry ctx. A transaction-bound
// Store stays bound to its transaction.
func (s *Store) WithContext(ctx context.Context) *Store {
	return NewStore(s.db.WithContext(ctx))
}

// Transaction runs fn with a Store bound to a single transaction.
// Any error returned by fn rolls back every write made through tx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// forUpdate adds a row lock on dialects that support it. sqlite serializes
// writers on its own and rejects the clause.
func forUpdate(db *gorm.DB) *gorm.DB {
	if database.SupportsRowLocks(db) {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

const likeEscape = "!"

// escapeLike makes s safe to use as a literal LIKE prefix with ESCAPE '!'.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
