package repository

import (
	"database/sql"
	"errors"

	"gorm.io/gorm"

	"test-asset-service/internal/models"
)

// TestStepRepository 测试步骤数据访问接口
type TestStepRepository interface {
	Create(step *models.TestStep) error
	Save(step *models.TestStep) error
	FindByID(id uint) (*models.TestStep, error)
	FindByCase(testCaseID uint) ([]models.TestStep, error)
	CountByCase(testCaseID uint) (int, error)
	MaxOrder(testCaseID uint) (int, error)
	Shift(testCaseID uint, from, to, delta int) error
	SetOrder(id uint, order int, operatorID uint) error
	Disable(id uint, operatorID uint) error
	DisableByCase(testCaseID uint, operatorID uint) error
}

type testStepRepo struct {
	db *gorm.DB
}

// NewTestStepRepository 创建Repository实例
func NewTestStepRepository(db *gorm.DB) TestStepRepository {
	return &testStepRepo{db: db}
}

func (r *testStepRepo) Create(step *models.TestStep) error {
	return r.db.Create(step).Error
}

func (r *testStepRepo) Save(step *models.TestStep) error {
	return r.db.Save(step).Error
}

func (r *testStepRepo) FindByID(id uint) (*models.TestStep, error) {
	var step models.TestStep
	err := r.db.Where("id = ? AND enabled = ?", id, true).First(&step).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &step, nil
}

func (r *testStepRepo) FindByCase(testCaseID uint) ([]models.TestStep, error) {
	var steps []models.TestStep
	err := r.db.Where("test_case_id = ? AND enabled = ?", testCaseID, true).
		Order("step_order, id").
		Find(&steps).Error
	return steps, err
}

func (r *testStepRepo) CountByCase(testCaseID uint) (int, error) {
	var count int64
	err := r.db.Model(&models.TestStep{}).
		Where("test_case_id = ? AND enabled = ?", testCaseID, true).
		Count(&count).Error
	return int(count), err
}

func (r *testStepRepo) MaxOrder(testCaseID uint) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&models.TestStep{}).
		Where("test_case_id = ? AND enabled = ?", testCaseID, true).
		Select("MAX(step_order)").
		Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// Shift adds delta to the order of every enabled step with from <= order <= to.
func (r *testStepRepo) Shift(testCaseID uint, from, to, delta int) error {
	if from > to || delta == 0 {
		return nil
	}
	return r.db.Model(&models.TestStep{}).
		Where("test_case_id = ? AND enabled = ? AND step_order BETWEEN ? AND ?", testCaseID, true, from, to).
		Update("step_order", gorm.Expr("step_order + ?", delta)).Error
}

func (r *testStepRepo) SetOrder(id uint, order int, operatorID uint) error {
	return r.db.Model(&models.TestStep{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"step_order": order,
			"updated_by": operatorID,
		}).Error
}

func (r *testStepRepo) Disable(id uint, operatorID uint) error {
	return r.db.Model(&models.TestStep{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enabled":    false,
			"updated_by": operatorID,
		}).Error
}

func (r *testStepRepo) DisableByCase(testCaseID uint, operatorID uint) error {
	return r.db.Model(&models.TestStep{}).
		Where("test_case_id = ? AND enabled = ?", testCaseID, true).
		Updates(map[string]interface{}{
			"enabled":    false,
			"updated_by": operatorID,
		}).Error
}
