package models

import (
	"time"
)

// Column limits of Module, in characters. ModulePathMaxLen keeps the path
// index within InnoDB's 3072-byte key limit under utf8mb4.
const (
	ModuleNameMaxLen = 255
	ModulePathMaxLen = 768
)

// Module 测试模块模型，项目内的树节点
//
// Path 保存祖先名称路径（根节点为空字符串），Depth 从 1 开始。
type Module struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProjectID   uint      `gorm:"not null;index:idx_module_project_parent,priority:1" json:"projectId"`
	ParentID    *uint     `gorm:"index:idx_module_project_parent,priority:2" json:"parentId,omitempty"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Path        string    `gorm:"column:materialized_path;size:768;not null;default:'';index" json:"path"`
	Depth       int       `gorm:"not null;default:1" json:"depth"`
	SortOrder   int       `gorm:"not null;default:0" json:"sortOrder"`
	Enabled     bool      `gorm:"not null;default:true;index" json:"enabled"`
	CreatedBy   uint      `json:"createdBy"`
	UpdatedBy   uint      `json:"updatedBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// 关联（仅用于树形展示）
	Children []Module `gorm:"-" json:"children,omitempty"`
}

// TableName 指定表名
func (Module) TableName() string {
	return "test_modules"
}

// IsRoot reports whether the module has no parent.
func (m *Module) IsRoot() bool {
	return m.ParentID == nil
}

// SameParent reports whether both parent pointers reference the same module (or both are roots).
func SameParent(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
