package service

import (
	"context"

	"emperror.dev/errors"
	"github.com/apex/log"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/lifecycle"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
	"test-asset-service/internal/steps"
)

// ===== Step Operations =====

// editSteps runs fn against the case's steps in one transaction under the
// case lock, after checking the case is editable, and bumps its version.
func (s *assetService) editSteps(ctx context.Context, caseID uint, operation string, operatorID uint, fn func(seq *steps.Sequencer) error) error {
	var tc *models.TestCase
	err := s.mutateCase(ctx, caseID, func(tx *repository.Store) error {
		var err error
		tc, err = lockedCase(tx, caseID)
		if err != nil {
			return err
		}
		if !lifecycle.CanEdit(tc.Status) {
			return apperr.InvalidState("test case", tc.CaseID, string(tc.Status), "edit steps")
		}
		if err := fn(s.steps.WithTx(tx)); err != nil {
			return err
		}
		if err := tx.Cases.BumpVersion(caseID, operatorID); err != nil {
			return errors.Wrap(err, "failed to bump case version")
		}
		tc.Version++
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"case_id":   tc.CaseID,
		"operation": operation,
		"version":   tc.Version,
		"operator":  operatorID,
	}).Info("test steps changed")
	s.events.Publish(tc.ProjectID, EventStepsChanged, StepsChange{
		TestCaseID: tc.ID,
		Operation:  operation,
		Version:    tc.Version,
	})
	return nil
}

// caseOfStep resolves the owning case of an enabled step.
func (s *assetService) caseOfStep(ctx context.Context, stepID uint) (uint, error) {
	step, err := s.GetStep(ctx, stepID)
	if err != nil {
		return 0, err
	}
	return step.TestCaseID, nil
}

func (s *assetService) GetStep(ctx context.Context, stepID uint) (*models.TestStep, error) {
	step, err := s.store.WithContext(ctx).Steps.FindByID(stepID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load step %d", stepID)
	}
	if step == nil {
		return nil, apperr.NotFound("test step", stepID)
	}
	return step, nil
}

func (s *assetService) ListSteps(ctx context.Context, caseID uint) ([]models.TestStep, error) {
	tc, err := s.GetTestCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return tc.Steps, nil
}

func (s *assetService) AppendStep(ctx context.Context, caseID uint, in steps.StepInput, operatorID uint) (*models.TestStep, error) {
	var step *models.TestStep
	err := s.editSteps(ctx, caseID, "append", operatorID, func(seq *steps.Sequencer) error {
		var err error
		step, err = seq.Append(ctx, caseID, in, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (s *assetService) InsertStep(ctx context.Context, caseID uint, position int, in steps.StepInput, operatorID uint) (*models.TestStep, error) {
	var step *models.TestStep
	err := s.editSteps(ctx, caseID, "insert", operatorID, func(seq *steps.Sequencer) error {
		var err error
		step, err = seq.InsertAt(ctx, caseID, position, in, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (s *assetService) MoveStep(ctx context.Context, stepID uint, newOrder int, operatorID uint) (*models.TestStep, error) {
	caseID, err := s.caseOfStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var step *models.TestStep
	err = s.editSteps(ctx, caseID, "move", operatorID, func(seq *steps.Sequencer) error {
		var err error
		step, err = seq.MoveTo(ctx, stepID, newOrder, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (s *assetService) UpdateStep(ctx context.Context, stepID uint, in steps.StepInput, operatorID uint) (*models.TestStep, error) {
	caseID, err := s.caseOfStep(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var step *models.TestStep
	err = s.editSteps(ctx, caseID, "update", operatorID, func(seq *steps.Sequencer) error {
		var err error
		step, err = seq.Update(ctx, stepID, in, operatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func (s *assetService) RemoveStep(ctx context.Context, stepID uint, operatorID uint) error {
	caseID, err := s.caseOfStep(ctx, stepID)
	if err != nil {
		return err
	}
	return s.editSteps(ctx, caseID, "remove", operatorID, func(seq *steps.Sequencer) error {
		return seq.Remove(ctx, stepID, operatorID)
	})
}
