package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"test-asset-service/internal/models"
)

// ReviewRecordRepository 用例评审记录数据访问接口
type ReviewRecordRepository interface {
	Create(record *models.CaseReviewRecord) error
	FindByCase(testCaseID uint) ([]models.CaseReviewRecord, error)
}

type reviewRecordRepo struct {
	db *gorm.DB
}

// NewReviewRecordRepository 创建Repository实例
func NewReviewRecordRepository(db *gorm.DB) ReviewRecordRepository {
	return &reviewRecordRepo{db: db}
}

func (r *reviewRecordRepo) Create(record *models.CaseReviewRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	return r.db.Create(record).Error
}

func (r *reviewRecordRepo) FindByCase(testCaseID uint) ([]models.CaseReviewRecord, error) {
	var records []models.CaseReviewRecord
	err := r.db.Where("test_case_id = ?", testCaseID).
		Order("created_at, id").
		Find(&records).Error
	return records, err
}
