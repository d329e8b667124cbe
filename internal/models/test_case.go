package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// CaseStatus 测试用例评审状态
type CaseStatus string

const (
	StatusDraft         CaseStatus = "DRAFT"
	StatusPendingReview CaseStatus = "PENDING_REVIEW"
	StatusUnderReview   CaseStatus = "UNDER_REVIEW"
	StatusApproved      CaseStatus = "APPROVED"
	StatusRejected      CaseStatus = "REJECTED"
	StatusActive        CaseStatus = "ACTIVE"
	StatusDeprecated    CaseStatus = "DEPRECATED"
	StatusArchived      CaseStatus = "ARCHIVED"
)

// AllStatuses lists the closed status set in declaration order.
var AllStatuses = []CaseStatus{
	StatusDraft,
	StatusPendingReview,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusActive,
	StatusDeprecated,
	StatusArchived,
}

// Priority 测试用例优先级
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// TestCase 测试用例模型
type TestCase struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CaseID        string     `gorm:"uniqueIndex;size:64;not null" json:"caseId"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	ModuleID      uint       `gorm:"not null;index" json:"moduleId"`
	ProjectID     uint       `gorm:"not null;index" json:"projectId"`
	Type          string     `gorm:"size:50;not null;default:'functional'" json:"type"`
	Priority      Priority   `gorm:"size:10;index" json:"priority"`
	Status        CaseStatus `gorm:"size:32;not null;default:'DRAFT';index" json:"status"`
	Automated     bool       `gorm:"default:false" json:"automated"`
	SortOrder     int        `gorm:"default:0" json:"sortOrder"`
	Version       int        `gorm:"not null;default:1" json:"version"`
	Objective     string     `gorm:"type:text" json:"objective,omitempty"`
	Preconditions string     `gorm:"type:text" json:"preconditions,omitempty"`
	Tags          JSONArray  `gorm:"type:text" json:"tags,omitempty"`

	// 评审信息
	ReviewerID    *uint      `json:"reviewerId,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	ReviewComment string     `gorm:"type:text" json:"reviewComment,omitempty"`

	Enabled   bool      `gorm:"not null;default:true;index" json:"enabled"`
	CreatedBy uint      `json:"createdBy"`
	UpdatedBy uint      `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// 关联
	Steps []TestStep `gorm:"foreignKey:TestCaseID" json:"steps,omitempty"`
}

// TableName 指定表名
func (TestCase) TableName() string {
	return "test_cases"
}

// ClearReview drops reviewer metadata, used when a case goes back to review.
func (tc *TestCase) ClearReview() {
	tc.ReviewerID = nil
	tc.ReviewedAt = nil
	tc.ReviewComment = ""
}

// ===== 自定义JSON类型 =====

// JSONArray 自定义JSON数组类型
type JSONArray []interface{}

func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal JSONArray value: unsupported type %T", value)
	}

	if len(bytes) == 0 || string(bytes) == "[]" {
		*j = JSONArray{}
		return nil
	}

	if err := json.Unmarshal(bytes, j); err != nil {
		return fmt.Errorf("failed to unmarshal JSONArray value: %w (input: %s)", err, string(bytes))
	}
	return nil
}

// Strings returns the string members of the array.
func (j JSONArray) Strings() []string {
	out := make([]string, 0, len(j))
	for _, v := range j {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
