package models

import "time"

// TestStep 测试步骤模型，StepOrder 在同一用例的启用步骤中从 1 连续编号
type TestStep struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TestCaseID     uint      `gorm:"not null;index:idx_step_case_order,priority:1" json:"testCaseId"`
	StepOrder      int       `gorm:"not null;index:idx_step_case_order,priority:2" json:"stepOrder"`
	Description    string    `gorm:"type:text;not null" json:"description"`
	ExpectedResult string    `gorm:"type:text" json:"expectedResult,omitempty"`
	IsKeyStep      bool      `gorm:"default:false" json:"isKeyStep"`
	Automated      bool      `gorm:"default:false" json:"automated"`
	Enabled        bool      `gorm:"not null;default:true;index" json:"enabled"`
	CreatedBy      uint      `json:"createdBy"`
	UpdatedBy      uint      `json:"updatedBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (TestStep) TableName() string {
	return "test_steps"
}

// CaseReviewRecord 用例评审流转记录
type CaseReviewRecord struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	TestCaseID uint       `gorm:"not null;index" json:"testCaseId"`
	Action     string     `gorm:"size:32;not null" json:"action"`
	FromStatus CaseStatus `gorm:"size:32;not null" json:"fromStatus"`
	ToStatus   CaseStatus `gorm:"size:32;not null" json:"toStatus"`
	OperatorID uint       `gorm:"not null" json:"operatorId"`
	Comment    string     `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt  time.Time  `gorm:"index" json:"createdAt"`
}

// TableName 指定表名
func (CaseReviewRecord) TableName() string {
	return "test_case_review_records"
}

// All returns every model the service migrates.
func All() []interface{} {
	return []interface{}{
		&Module{},
		&TestCase{},
		&TestStep{},
		&CaseReviewRecord{},
	}
}
