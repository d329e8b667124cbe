package lifecycle

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/lock"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
)

// Result describes a committed transition.
type Result struct {
	Case   *models.TestCase
	From   models.CaseStatus
	To     models.CaseStatus
	Record *models.CaseReviewRecord
}

// Service applies transitions to stored cases.
type Service struct {
	store  *repository.Store
	locker *lock.Locker
	now    func() time.Time
}

// NewService 创建生命周期服务
func NewService(store *repository.Store, locker *lock.Locker) *Service {
	return &Service{store: store, locker: locker, now: time.Now}
}

// Transition runs action against the case under the case lock, in one
// transaction. The status is written only if it still equals the one the
// decision was made on, and every transition leaves an audit record.
func (s *Service) Transition(ctx context.Context, caseID uint, action Action, in Input) (*Result, error) {
	var result *Result
	err := s.locker.Do(ctx, lock.CaseKey(caseID), func() error {
		return s.store.Transaction(ctx, func(tx *repository.Store) error {
			tc, err := tx.Cases.FindByIDForUpdate(caseID)
			if err != nil {
				return errors.Wrapf(err, "failed to load test case %d", caseID)
			}
			// deprecated cases are disabled but still answer with InvalidState
			if tc == nil || (!tc.Enabled && tc.Status != models.StatusDeprecated) {
				return apperr.NotFound("test case", caseID)
			}

			from := tc.Status
			to, row, err := Apply(tc, action, in, s.now())
			if err != nil {
				return err
			}

			ok, err := tx.Cases.UpdateIfStatus(tc, from)
			if err != nil {
				return errors.Wrap(err, "failed to update test case status")
			}
			if !ok {
				return apperr.Conflict("test case", tc.CaseID, "status changed from %s concurrently", from)
			}

			record := &models.CaseReviewRecord{
				ID:         uuid.New().String(),
				TestCaseID: tc.ID,
				Action:     string(row),
				FromStatus: from,
				ToStatus:   to,
				OperatorID: in.OperatorID,
				Comment:    in.Comment,
			}
			if err := tx.Reviews.Create(record); err != nil {
				return errors.Wrap(err, "failed to record transition")
			}

			result = &Result{Case: tc, From: from, To: to, Record: record}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// History returns the audit trail of a case, oldest first.
func (s *Service) History(ctx context.Context, caseID uint) ([]models.CaseReviewRecord, error) {
	records, err := s.store.WithContext(ctx).Reviews.FindByCase(caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load review history")
	}
	return records, nil
}
