package caseid

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/config"
	"test-asset-service/internal/database"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
)

func setupGenerator(t *testing.T, retries int) (*Generator, *repository.Store) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	store := repository.NewStore(db)
	return New(store, config.AssetConfig{CaseIDMaxRetries: retries}), store
}

func insertCase(projectID, moduleID uint) CommitFunc {
	return func(tx *repository.Store, caseID string) error {
		return tx.Cases.Create(&models.TestCase{
			CaseID:    caseID,
			Title:     caseID,
			ModuleID:  moduleID,
			ProjectID: projectID,
			Version:   1,
		})
	}
}

func TestFormatAndSeq(t *testing.T) {
	assert.Equal(t, "TC_1_2_", Prefix(1, 2))
	assert.Equal(t, "TC_1_2_007", Format(1, 2, 7))
	assert.Equal(t, "TC_1_2_1234", Format(1, 2, 1234))

	seq, ok := Seq("TC_1_2_010", "TC_1_2_")
	assert.True(t, ok)
	assert.Equal(t, 10, seq)

	for _, id := range []string{"TC_1_2_", "TC_1_2_x1", "TC_1_2_-1", "TC_1_23_001", "TC_1_2_1 "} {
		_, ok := Seq(id, "TC_1_2_")
		assert.False(t, ok, id)
	}
}

func TestNext(t *testing.T) {
	gen, store := setupGenerator(t, 3)
	ctx := context.Background()

	id, err := gen.Next(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "TC_1_1_001", id)

	for _, caseID := range []string{"TC_1_1_001", "TC_1_1_002", "TC_1_1_abc", "TC_1_11_050", "TC_2_1_090"} {
		require.NoError(t, store.Cases.Create(&models.TestCase{CaseID: caseID, Title: "t", ModuleID: 1, ProjectID: 1, Version: 1}))
	}
	disabled := &models.TestCase{CaseID: "TC_1_1_005", Title: "t", ModuleID: 1, ProjectID: 1, Version: 1}
	require.NoError(t, store.Cases.Create(disabled))
	require.NoError(t, store.Cases.Disable(disabled.ID, 1))

	id, err = gen.Next(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "TC_1_1_006", id, "disabled cases keep their number")

	id, err = gen.Next(ctx, 1, 11)
	require.NoError(t, err)
	assert.Equal(t, "TC_1_11_051", id)
}

func TestAllocateRetriesAfterLosingRace(t *testing.T) {
	gen, store := setupGenerator(t, 3)
	ctx := context.Background()

	// a concurrent caller commits the identifier we just computed
	raced := false
	gen.beforeCommit = func(caseID string) {
		if raced {
			return
		}
		raced = true
		require.Equal(t, "TC_1_1_001", caseID)
		require.NoError(t, insertCase(1, 1)(store, caseID))
	}

	var seen []string
	id, err := gen.Allocate(ctx, 1, 1, func(tx *repository.Store, caseID string) error {
		seen = append(seen, caseID)
		return insertCase(1, 1)(tx, caseID)
	})
	require.NoError(t, err)
	assert.Equal(t, "TC_1_1_002", id)
	assert.Equal(t, []string{"TC_1_1_001", "TC_1_1_002"}, seen)
}

func TestAllocateGivesUp(t *testing.T) {
	gen, _ := setupGenerator(t, 2)

	calls := 0
	_, err := gen.Allocate(context.Background(), 1, 1, func(tx *repository.Store, caseID string) error {
		calls++
		return gorm.ErrDuplicatedKey
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 3, calls)
}

func TestAllocateDoesNotRetryOtherErrors(t *testing.T) {
	gen, store := setupGenerator(t, 5)
	boom := errors.New("module disabled")

	calls := 0
	_, err := gen.Allocate(context.Background(), 1, 1, func(tx *repository.Store, caseID string) error {
		calls++
		if err := insertCase(1, 1)(tx, caseID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	ids, err := store.Cases.CaseIDsWithPrefix(Prefix(1, 1))
	require.NoError(t, err)
	assert.Empty(t, ids, "the failed attempt must roll back")
}

func TestConcurrentAllocateIsUniqueAndContiguous(t *testing.T) {
	gen, _ := setupGenerator(t, 20)
	ctx := context.Background()

	const n = 10
	var (
		mu  sync.Mutex
		ids []string
		g   errgroup.Group
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			id, err := gen.Allocate(ctx, 3, 4, insertCase(3, 4))
			if err != nil {
				return err
			}
			mu.Lock()
			ids = append(ids, id)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(ids)
	var want []string
	for i := 1; i <= n; i++ {
		want = append(want, Format(3, 4, i))
	}
	assert.Equal(t, want, ids)
}
