// Package caseid hands out human-readable test case identifiers of the form
// TC_{projectId}_{moduleId}_{seq:03d}.
//
// Numbering is scoped per (project, module). The unique index on case_id is
// the arbiter between concurrent callers; the loser of a race retries with a
// fresh read.
package caseid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/config"
	"test-asset-service/internal/database"
	"test-asset-service/internal/repository"
)

// Prefix is the part shared by every identifier of a module.
func Prefix(projectID, moduleID uint) string {
	return fmt.Sprintf("TC_%d_%d_", projectID, moduleID)
}

// Format builds the identifier for seq.
func Format(projectID, moduleID uint, seq int) string {
	return fmt.Sprintf("%s%03d", Prefix(projectID, moduleID), seq)
}

// Seq extracts the numeric suffix of id, if id carries prefix.
func Seq(id, prefix string) (int, bool) {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || suffix == "" {
		return 0, false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// CommitFunc persists the case under caseID inside tx.
type CommitFunc func(tx *repository.Store, caseID string) error

// Generator 用例编号生成器
type Generator struct {
	store      *repository.Store
	maxRetries int

	// beforeCommit runs between computing an identifier and opening the
	// transaction that commits it.
	beforeCommit func(caseID string)
}

// New 创建用例编号生成器
func New(store *repository.Store, cfg config.AssetConfig) *Generator {
	return &Generator{
		store:      store,
		maxRetries: cfg.CaseIDMaxRetries,
	}
}

// Next computes the identifier the next case of the module would get.
// The value is only a proposal until committed; see Allocate.
func (g *Generator) Next(ctx context.Context, projectID, moduleID uint) (string, error) {
	prefix := Prefix(projectID, moduleID)
	ids, err := g.store.WithContext(ctx).Cases.CaseIDsWithPrefix(prefix)
	if err != nil {
		return "", errors.Wrap(err, "failed to read case ids")
	}

	max := 0
	for _, id := range ids {
		if seq, ok := Seq(id, prefix); ok && seq > max {
			max = seq
		}
	}
	return Format(projectID, moduleID, max+1), nil
}

func (g *Generator) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxRetries)), ctx)
}

// Allocate computes an identifier and hands it to commit in a fresh
// transaction. If the commit hits the unique index because a concurrent
// caller took the same identifier, the whole attempt is repeated with a new
// read, at most maxRetries times. Any other error is returned unchanged.
func (g *Generator) Allocate(ctx context.Context, projectID, moduleID uint, commit CommitFunc) (string, error) {
	var (
		caseID   string
		attempts int
	)

	operation := func() error {
		attempts++
		id, err := g.Next(ctx, projectID, moduleID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if g.beforeCommit != nil {
			g.beforeCommit(id)
		}

		err = g.store.Transaction(ctx, func(tx *repository.Store) error {
			return commit(tx, id)
		})
		if err == nil {
			caseID = id
			return nil
		}
		if database.IsUniqueViolation(err) {
			log.WithFields(log.Fields{
				"case_id": id,
				"attempt": attempts,
			}).Debug("case id taken concurrently, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, g.newBackOff(ctx)); err != nil {
		if database.IsUniqueViolation(err) {
			return "", apperr.Conflict("module", moduleID,
				"no free case id after %d attempts", attempts)
		}
		return "", err
	}
	return caseID, nil
}
