// Package steps keeps the steps of a test case numbered 1..N without gaps.
package steps

import (
	"context"
	"strings"

	"emperror.dev/errors"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/lock"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
)

// StepInput 步骤内容
type StepInput struct {
	Description    string `json:"description"`
	ExpectedResult string `json:"expectedResult"`
	IsKeyStep      bool   `json:"isKeyStep"`
	Automated      bool   `json:"automated"`
}

func (in StepInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return apperr.InvalidOperation("test step", nil, "description must not be empty")
	}
	return nil
}

// Sequencer 步骤排序器
//
// A Sequencer built with New takes the per-case lock and opens its own
// transaction for every call. WithTx returns one that runs inside a
// transaction the caller already holds, together with the case lock.
type Sequencer struct {
	store  *repository.Store
	locker *lock.Locker
	bound  bool
}

// New 创建步骤排序器
func New(store *repository.Store, locker *lock.Locker) *Sequencer {
	return &Sequencer{store: store, locker: locker}
}

// WithTx binds the sequencer to tx.
func (s *Sequencer) WithTx(tx *repository.Store) *Sequencer {
	return &Sequencer{store: tx, locker: s.locker, bound: true}
}

func (s *Sequencer) run(ctx context.Context, caseID uint, fn func(tx *repository.Store) error) error {
	if s.bound {
		return fn(s.store.WithContext(ctx))
	}
	return s.locker.Do(ctx, lock.CaseKey(caseID), func() error {
		return s.store.Transaction(ctx, fn)
	})
}

// caseOf resolves the case a step belongs to before the lock is taken.
func (s *Sequencer) caseOf(ctx context.Context, stepID uint) (uint, error) {
	step, err := s.store.WithContext(ctx).Steps.FindByID(stepID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to load step %d", stepID)
	}
	if step == nil {
		return 0, apperr.NotFound("test step", stepID)
	}
	return step.TestCaseID, nil
}

func loadStep(tx *repository.Store, stepID uint) (*models.TestStep, error) {
	step, err := tx.Steps.FindByID(stepID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load step %d", stepID)
	}
	if step == nil {
		return nil, apperr.NotFound("test step", stepID)
	}
	return step, nil
}

func requireCase(tx *repository.Store, caseID uint) error {
	testCase, err := tx.Cases.FindByID(caseID)
	if err != nil {
		return errors.Wrapf(err, "failed to load test case %d", caseID)
	}
	if testCase == nil {
		return apperr.NotFound("test case", caseID)
	}
	return nil
}

func newStep(caseID uint, order int, in StepInput, operatorID uint) *models.TestStep {
	return &models.TestStep{
		TestCaseID:     caseID,
		StepOrder:      order,
		Description:    in.Description,
		ExpectedResult: in.ExpectedResult,
		IsKeyStep:      in.IsKeyStep,
		Automated:      in.Automated,
		Enabled:        true,
		CreatedBy:      operatorID,
		UpdatedBy:      operatorID,
	}
}

// Append adds a step after the last one.
func (s *Sequencer) Append(ctx context.Context, caseID uint, in StepInput, operatorID uint) (*models.TestStep, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var step *models.TestStep
	err := s.run(ctx, caseID, func(tx *repository.Store) error {
		if err := requireCase(tx, caseID); err != nil {
			return err
		}
		max, err := tx.Steps.MaxOrder(caseID)
		if err != nil {
			return errors.Wrap(err, "failed to read step order")
		}
		step = newStep(caseID, max+1, in, operatorID)
		return errors.Wrap(tx.Steps.Create(step), "failed to create step")
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// InsertAt writes a step at position, shifting the steps at and after it up by one.
// Valid positions are 1..count+1.
func (s *Sequencer) InsertAt(ctx context.Context, caseID uint, position int, in StepInput, operatorID uint) (*models.TestStep, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var step *models.TestStep
	err := s.run(ctx, caseID, func(tx *repository.Store) error {
		if err := requireCase(tx, caseID); err != nil {
			return err
		}
		count, err := tx.Steps.CountByCase(caseID)
		if err != nil {
			return errors.Wrap(err, "failed to count steps")
		}
		if position < 1 || position > count+1 {
			return apperr.InvalidOperation("test case", caseID,
				"step position %d is outside 1..%d", position, count+1)
		}

		if err := tx.Steps.Shift(caseID, position, count, 1); err != nil {
			return errors.Wrap(err, "failed to shift steps")
		}
		step = newStep(caseID, position, in, operatorID)
		return errors.Wrap(tx.Steps.Create(step), "failed to create step")
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// MoveTo repositions a step. Only the steps strictly between the old and the
// new position move, by one, towards the vacated slot.
func (s *Sequencer) MoveTo(ctx context.Context, stepID uint, newOrder int, operatorID uint) (*models.TestStep, error) {
	caseID, err := s.caseOf(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var step *models.TestStep
	err = s.run(ctx, caseID, func(tx *repository.Store) error {
		current, err := loadStep(tx, stepID)
		if err != nil {
			return err
		}
		count, err := tx.Steps.CountByCase(caseID)
		if err != nil {
			return errors.Wrap(err, "failed to count steps")
		}
		if newOrder < 1 || newOrder > count {
			return apperr.Conflict("test step", stepID, "order %d is outside 1..%d", newOrder, count)
		}

		old := current.StepOrder
		switch {
		case newOrder < old:
			err = tx.Steps.Shift(caseID, newOrder, old-1, 1)
		case newOrder > old:
			err = tx.Steps.Shift(caseID, old+1, newOrder, -1)
		default:
			step = current
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to shift steps")
		}
		if err := tx.Steps.SetOrder(stepID, newOrder, operatorID); err != nil {
			return errors.Wrap(err, "failed to move step")
		}
		step, err = loadStep(tx, stepID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// Remove soft-deletes a step and closes the gap it leaves.
func (s *Sequencer) Remove(ctx context.Context, stepID uint, operatorID uint) error {
	caseID, err := s.caseOf(ctx, stepID)
	if err != nil {
		return err
	}

	return s.run(ctx, caseID, func(tx *repository.Store) error {
		step, err := loadStep(tx, stepID)
		if err != nil {
			return err
		}
		count, err := tx.Steps.CountByCase(caseID)
		if err != nil {
			return errors.Wrap(err, "failed to count steps")
		}
		if err := tx.Steps.Disable(stepID, operatorID); err != nil {
			return errors.Wrap(err, "failed to remove step")
		}
		return errors.Wrap(tx.Steps.Shift(caseID, step.StepOrder+1, count, -1), "failed to shift steps")
	})
}

// Update replaces a step's content. Its position is untouched.
func (s *Sequencer) Update(ctx context.Context, stepID uint, in StepInput, operatorID uint) (*models.TestStep, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	caseID, err := s.caseOf(ctx, stepID)
	if err != nil {
		return nil, err
	}

	var step *models.TestStep
	err = s.run(ctx, caseID, func(tx *repository.Store) error {
		current, err := loadStep(tx, stepID)
		if err != nil {
			return err
		}
		current.Description = in.Description
		current.ExpectedResult = in.ExpectedResult
		current.IsKeyStep = in.IsKeyStep
		current.Automated = in.Automated
		current.UpdatedBy = operatorID
		if err := tx.Steps.Save(current); err != nil {
			return errors.Wrap(err, "failed to update step")
		}
		step = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// RemoveAll soft-deletes every step of a case.
func (s *Sequencer) RemoveAll(ctx context.Context, caseID uint, operatorID uint) error {
	return s.run(ctx, caseID, func(tx *repository.Store) error {
		return errors.Wrap(tx.Steps.DisableByCase(caseID, operatorID), "failed to remove steps")
	})
}

// List returns the enabled steps of a case in order.
func (s *Sequencer) List(ctx context.Context, caseID uint) ([]models.TestStep, error) {
	steps, err := s.store.WithContext(ctx).Steps.FindByCase(caseID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list steps")
	}
	return steps, nil
}

// Verify checks that the enabled steps of a case are numbered exactly 1..N.
func (s *Sequencer) Verify(ctx context.Context, caseID uint) error {
	steps, err := s.List(ctx, caseID)
	if err != nil {
		return err
	}
	for i, step := range steps {
		if step.StepOrder != i+1 {
			return apperr.Conflict("test case", caseID,
				"step %d has order %d, expected %d", step.ID, step.StepOrder, i+1)
		}
	}
	return nil
}
