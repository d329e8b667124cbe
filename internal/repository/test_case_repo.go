package repository

import (
	"database/sql"
	"errors"
	"strings"

	"gorm.io/gorm"

	"test-asset-service/internal/models"
)

// TestCaseRepository 测试用例数据访问接口
type TestCaseRepository interface {
	Create(testCase *models.TestCase) error
	Save(testCase *models.TestCase) error
	FindByID(id uint) (*models.TestCase, error)
	FindByIDForUpdate(id uint) (*models.TestCase, error)
	FindByCaseID(caseID string) (*models.TestCase, error)
	FindByModule(moduleID uint) ([]models.TestCase, error)
	CountByModules(moduleIDs []uint) (int64, error)
	MaxSortOrder(moduleID uint) (int, error)
	CaseIDsWithPrefix(prefix string) ([]string, error)
	UpdateIfStatus(testCase *models.TestCase, expected models.CaseStatus) (bool, error)
	BumpVersion(id uint, operatorID uint) error
	Disable(id uint, operatorID uint) error
}

// testCaseRepo 实现
type testCaseRepo struct {
	db *gorm.DB
}

// NewTestCaseRepository 创建Repository实例
func NewTestCaseRepository(db *gorm.DB) TestCaseRepository {
	return &testCaseRepo{db: db}
}

func (r *testCaseRepo) Create(testCase *models.TestCase) error {
	return r.db.Create(testCase).Error
}

func (r *testCaseRepo) Save(testCase *models.TestCase) error {
	return r.db.Omit("Steps").Save(testCase).Error
}

// FindByID returns an enabled case, or nil if none matches.
func (r *testCaseRepo) FindByID(id uint) (*models.TestCase, error) {
	var testCase models.TestCase
	err := r.db.Where("id = ? AND enabled = ?", id, true).First(&testCase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &testCase, nil
}

// FindByIDForUpdate returns the case whether enabled or not, row-locked where
// supported. Lifecycle transitions need to see deprecated (disabled) cases.
func (r *testCaseRepo) FindByIDForUpdate(id uint) (*models.TestCase, error) {
	var testCase models.TestCase
	err := forUpdate(r.db).Where("id = ?", id).First(&testCase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &testCase, nil
}

func (r *testCaseRepo) FindByCaseID(caseID string) (*models.TestCase, error) {
	var testCase models.TestCase
	err := r.db.Where("case_id = ? AND enabled = ?", caseID, true).First(&testCase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &testCase, nil
}

func (r *testCaseRepo) FindByModule(moduleID uint) ([]models.TestCase, error) {
	var testCases []models.TestCase
	err := r.db.Where("module_id = ? AND enabled = ?", moduleID, true).
		Order("sort_order, id").
		Find(&testCases).Error
	return testCases, err
}

func (r *testCaseRepo) CountByModules(moduleIDs []uint) (int64, error) {
	var count int64
	if len(moduleIDs) == 0 {
		return 0, nil
	}
	err := r.db.Model(&models.TestCase{}).
		Where("module_id IN ? AND enabled = ?", moduleIDs, true).
		Count(&count).Error
	return count, err
}

func (r *testCaseRepo) MaxSortOrder(moduleID uint) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&models.TestCase{}).
		Where("module_id = ? AND enabled = ?", moduleID, true).
		Select("MAX(sort_order)").
		Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// CaseIDsWithPrefix lists identifiers starting with prefix, disabled cases
// included: an identifier is never handed out twice.
func (r *testCaseRepo) CaseIDsWithPrefix(prefix string) ([]string, error) {
	var caseIDs []string
	err := r.db.Model(&models.TestCase{}).
		Where("case_id LIKE ? ESCAPE '"+likeEscape+"'", escapeLike(prefix)+"%").
		Pluck("case_id", &caseIDs).Error
	if err != nil {
		return nil, err
	}

	filtered := caseIDs[:0]
	for _, id := range caseIDs {
		if strings.HasPrefix(id, prefix) {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

// UpdateIfStatus writes the lifecycle columns only if the stored status still
// equals expected. It reports false when another writer got there first.
func (r *testCaseRepo) UpdateIfStatus(testCase *models.TestCase, expected models.CaseStatus) (bool, error) {
	result := r.db.Model(&models.TestCase{}).
		Where("id = ? AND status = ?", testCase.ID, expected).
		Updates(map[string]interface{}{
			"status":         testCase.Status,
			"reviewer_id":    testCase.ReviewerID,
			"reviewed_at":    testCase.ReviewedAt,
			"review_comment": testCase.ReviewComment,
			"enabled":        testCase.Enabled,
			"version":        testCase.Version,
			"updated_by":     testCase.UpdatedBy,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *testCaseRepo) BumpVersion(id uint, operatorID uint) error {
	return r.db.Model(&models.TestCase{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"version":    gorm.Expr("version + 1"),
			"updated_by": operatorID,
		}).Error
}

func (r *testCaseRepo) Disable(id uint, operatorID uint) error {
	return r.db.Model(&models.TestCase{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"enabled":    false,
			"updated_by": operatorID,
		}).Error
}
