package service

import (
	"context"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/lifecycle"
	"test-asset-service/internal/lock"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
)

const defaultCaseType = "functional"

// ===== Test Case Operations =====

func (s *assetService) CreateTestCase(ctx context.Context, req *CreateTestCaseRequest, operatorID uint) (*models.TestCase, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.InvalidOperation("test case", nil, "title must not be empty")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityP2
	}
	if !priority.Valid() {
		return nil, apperr.InvalidOperation("test case", nil, "unknown priority %q", priority)
	}
	caseType := req.Type
	if caseType == "" {
		caseType = defaultCaseType
	}

	var created *models.TestCase
	err := s.locker.Do(ctx, lock.ProjectKey(req.ProjectID), func() error {
		_, err := s.ids.Allocate(ctx, req.ProjectID, req.ModuleID, func(tx *repository.Store, caseID string) error {
			if _, err := moduleIn(tx, req.ProjectID, req.ModuleID); err != nil {
				return err
			}
			sortOrder, err := tx.Cases.MaxSortOrder(req.ModuleID)
			if err != nil {
				return errors.Wrap(err, "failed to read case sort order")
			}

			tc := &models.TestCase{
				CaseID:        caseID,
				Title:         req.Title,
				ModuleID:      req.ModuleID,
				ProjectID:     req.ProjectID,
				Type:          caseType,
				Priority:      priority,
				Status:        models.StatusDraft,
				Automated:     req.Automated,
				SortOrder:     sortOrder + 1,
				Version:       1,
				Objective:     req.Objective,
				Preconditions: req.Preconditions,
				Tags:          toJSONArray(req.Tags),
				Enabled:       true,
				CreatedBy:     operatorID,
				UpdatedBy:     operatorID,
			}
			if err := tx.Cases.Create(tc); err != nil {
				return errors.Wrap(err, "failed to create test case")
			}

			seq := s.steps.WithTx(tx)
			for _, in := range req.Steps {
				step, err := seq.Append(ctx, tc.ID, in, operatorID)
				if err != nil {
					return err
				}
				tc.Steps = append(tc.Steps, *step)
			}
			created = tc
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"project":  created.ProjectID,
		"module":   created.ModuleID,
		"case_id":  created.CaseID,
		"steps":    len(created.Steps),
		"operator": operatorID,
	}).Info("test case created")
	s.events.Publish(created.ProjectID, EventCaseCreated, created)
	return created, nil
}

// lockedCase loads an enabled case for writing.
func lockedCase(tx *repository.Store, id uint) (*models.TestCase, error) {
	tc, err := tx.Cases.FindByIDForUpdate(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load test case %d", id)
	}
	if tc == nil || !tc.Enabled {
		return nil, apperr.NotFound("test case", id)
	}
	return tc, nil
}

// mutateCase runs fn in a transaction under the case lock.
func (s *assetService) mutateCase(ctx context.Context, id uint, fn func(tx *repository.Store) error) error {
	return s.locker.Do(ctx, lock.CaseKey(id), func() error {
		return s.store.Transaction(ctx, fn)
	})
}

func (s *assetService) UpdateTestCase(ctx context.Context, id uint, req *UpdateTestCaseRequest, operatorID uint) (*models.TestCase, error) {
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, apperr.InvalidOperation("test case", id, "unknown priority %q", req.Priority)
	}

	var updated *models.TestCase
	err := s.mutateCase(ctx, id, func(tx *repository.Store) error {
		tc, err := lockedCase(tx, id)
		if err != nil {
			return err
		}
		if !lifecycle.CanEdit(tc.Status) {
			return apperr.InvalidState("test case", tc.CaseID, string(tc.Status), "edit")
		}

		if strings.TrimSpace(req.Title) != "" {
			tc.Title = req.Title
		}
		if req.Type != "" {
			tc.Type = req.Type
		}
		if req.Priority != "" {
			tc.Priority = req.Priority
		}
		if req.Automated != nil {
			tc.Automated = *req.Automated
		}
		if req.Objective != nil {
			tc.Objective = *req.Objective
		}
		if req.Preconditions != nil {
			tc.Preconditions = *req.Preconditions
		}
		if req.Tags != nil {
			tc.Tags = toJSONArray(req.Tags)
		}
		tc.Version++
		tc.UpdatedBy = operatorID

		if err := tx.Cases.Save(tc); err != nil {
			return errors.Wrap(err, "failed to update test case")
		}
		updated = tc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(updated.ProjectID, EventCaseUpdated, updated)
	return updated, nil
}

// DeleteTestCase soft-deletes a case together with its steps. Cases under
// review cannot be deleted.
func (s *assetService) DeleteTestCase(ctx context.Context, id uint, operatorID uint) error {
	var deleted *models.TestCase
	err := s.mutateCase(ctx, id, func(tx *repository.Store) error {
		tc, err := lockedCase(tx, id)
		if err != nil {
			return err
		}
		if tc.Status == models.StatusUnderReview {
			return apperr.InvalidState("test case", tc.CaseID, string(tc.Status), "delete")
		}
		if err := tx.Cases.Disable(tc.ID, operatorID); err != nil {
			return errors.Wrap(err, "failed to delete test case")
		}
		if err := s.steps.WithTx(tx).RemoveAll(ctx, tc.ID, operatorID); err != nil {
			return err
		}
		deleted = tc
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"case_id":  deleted.CaseID,
		"operator": operatorID,
	}).Info("test case deleted")
	s.events.Publish(deleted.ProjectID, EventCaseDeleted, deleted)
	return nil
}

// MoveTestCase re-homes a case to another module of the same project. The
// identifier does not change.
func (s *assetService) MoveTestCase(ctx context.Context, id uint, moduleID uint, operatorID uint) (*models.TestCase, error) {
	current, err := s.GetTestCase(ctx, id)
	if err != nil {
		return nil, err
	}

	var moved *models.TestCase
	err = s.locker.Do(ctx, lock.ProjectKey(current.ProjectID), func() error {
		return s.mutateCase(ctx, id, func(tx *repository.Store) error {
			tc, err := lockedCase(tx, id)
			if err != nil {
				return err
			}
			if lifecycle.IsTerminal(tc.Status) {
				return apperr.InvalidState("test case", tc.CaseID, string(tc.Status), "move")
			}
			if tc.ModuleID == moduleID {
				moved = tc
				return nil
			}
			if _, err := moduleIn(tx, tc.ProjectID, moduleID); err != nil {
				return err
			}
			sortOrder, err := tx.Cases.MaxSortOrder(moduleID)
			if err != nil {
				return errors.Wrap(err, "failed to read case sort order")
			}

			tc.ModuleID = moduleID
			tc.SortOrder = sortOrder + 1
			tc.UpdatedBy = operatorID
			if err := tx.Cases.Save(tc); err != nil {
				return errors.Wrap(err, "failed to move test case")
			}
			moved = tc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"case_id":  moved.CaseID,
		"module":   moduleID,
		"operator": operatorID,
	}).Info("test case moved")
	s.events.Publish(moved.ProjectID, EventCaseMoved, moved)
	return moved, nil
}

func (s *assetService) ReorderTestCase(ctx context.Context, id uint, sortOrder int, operatorID uint) (*models.TestCase, error) {
	var reordered *models.TestCase
	err := s.mutateCase(ctx, id, func(tx *repository.Store) error {
		tc, err := lockedCase(tx, id)
		if err != nil {
			return err
		}
		tc.SortOrder = sortOrder
		tc.UpdatedBy = operatorID
		if err := tx.Cases.Save(tc); err != nil {
			return errors.Wrap(err, "failed to reorder test case")
		}
		reordered = tc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(reordered.ProjectID, EventCaseUpdated, reordered)
	return reordered, nil
}

// GetTestCase returns an enabled case with its steps.
func (s *assetService) GetTestCase(ctx context.Context, id uint) (*models.TestCase, error) {
	tc, err := s.store.WithContext(ctx).Cases.FindByID(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find test case %d", id)
	}
	if tc == nil {
		return nil, apperr.NotFound("test case", id)
	}
	return s.withSteps(ctx, tc)
}

func (s *assetService) GetTestCaseByCaseID(ctx context.Context, caseID string) (*models.TestCase, error) {
	tc, err := s.store.WithContext(ctx).Cases.FindByCaseID(caseID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find test case %s", caseID)
	}
	if tc == nil {
		return nil, apperr.NotFound("test case", caseID)
	}
	return s.withSteps(ctx, tc)
}

func (s *assetService) withSteps(ctx context.Context, tc *models.TestCase) (*models.TestCase, error) {
	list, err := s.steps.List(ctx, tc.ID)
	if err != nil {
		return nil, err
	}
	tc.Steps = list
	return tc, nil
}

func (s *assetService) ListTestCases(ctx context.Context, moduleID uint) ([]models.TestCase, error) {
	if _, err := s.tree.Get(ctx, moduleID); err != nil {
		return nil, err
	}
	cases, err := s.store.WithContext(ctx).Cases.FindByModule(moduleID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list test cases")
	}
	return cases, nil
}

// ===== Review Workflow =====

func (s *assetService) Transition(ctx context.Context, id uint, action lifecycle.Action, in lifecycle.Input) (*models.TestCase, error) {
	result, err := s.lifecycle.Transition(ctx, id, action, in)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"case":   id,
			"action": action,
		}).Debug("transition rejected")
		return nil, err
	}

	tc := result.Case
	log.WithFields(log.Fields{
		"case_id":  tc.CaseID,
		"from":     result.From,
		"to":       result.To,
		"operator": in.OperatorID,
	}).Info("test case status changed")
	s.events.Publish(tc.ProjectID, EventCaseStatusChanged, StatusChange{
		CaseID: tc.CaseID,
		ID:     tc.ID,
		From:   string(result.From),
		To:     string(result.To),
		Action: result.Record.Action,
	})
	return tc, nil
}

func (s *assetService) Submit(ctx context.Context, id uint, operatorID uint) (*models.TestCase, error) {
	return s.Transition(ctx, id, lifecycle.ActionSubmit, lifecycle.Input{OperatorID: operatorID})
}

func (s *assetService) Approve(ctx context.Context, id uint, reviewerID uint, comment string) (*models.TestCase, error) {
	return s.Transition(ctx, id, lifecycle.ActionApprove, lifecycle.Input{
		OperatorID: reviewerID,
		ReviewerID: &reviewerID,
		Comment:    comment,
	})
}

func (s *assetService) Reject(ctx context.Context, id uint, reviewerID uint, comment string) (*models.TestCase, error) {
	return s.Transition(ctx, id, lifecycle.ActionReject, lifecycle.Input{
		OperatorID: reviewerID,
		ReviewerID: &reviewerID,
		Comment:    comment,
	})
}

func (s *assetService) ReviewHistory(ctx context.Context, id uint) ([]models.CaseReviewRecord, error) {
	tc, err := s.store.WithContext(ctx).Cases.FindByID(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find test case %d", id)
	}
	if tc == nil {
		return nil, apperr.NotFound("test case", id)
	}
	return s.lifecycle.History(ctx, id)
}

// CheckExecutable returns the case if it may be handed to an executor.
func (s *assetService) CheckExecutable(ctx context.Context, id uint) (*models.TestCase, error) {
	tc, err := s.GetTestCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanExecute(tc.Status) {
		return nil, apperr.InvalidState("test case", tc.CaseID, string(tc.Status), "execute")
	}
	return tc, nil
}
