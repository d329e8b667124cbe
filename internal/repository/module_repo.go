package repository

import (
	"database/sql"
	"errors"
	"strings"

	"gorm.io/gorm"

	"test-asset-service/internal/models"
)

// ModuleRepository 测试模块数据访问接口
type ModuleRepository interface {
	Create(module *models.Module) error
	Save(module *models.Module) error
	FindByID(id uint) (*models.Module, error)
	FindByIDForUpdate(id uint) (*models.Module, error)
	LockByIDs(ids []uint) ([]models.Module, error)
	FindSiblingByName(projectID uint, parentID *uint, name string, excludeID uint) (*models.Module, error)
	FindSiblingBySortOrder(projectID uint, parentID *uint, sortOrder int, excludeID uint) (*models.Module, error)
	MaxSiblingSortOrder(projectID uint, parentID *uint) (int, error)
	CountChildren(id uint) (int64, error)
	FindByProject(projectID uint) ([]models.Module, error)
	FindByPathPrefix(projectID uint, prefix, sep string) ([]models.Module, error)
	WalkByPathPrefix(projectID uint, prefix, sep string, fn func(*models.Module) error) error
	UpdatePlacement(id uint, parentID *uint, path string, depth int, operatorID uint) error
	UpdateFields(id uint, fields map[string]interface{}) error
	Disable(id uint, operatorID uint) error
}

// moduleRepo 实现
type moduleRepo struct {
	db *gorm.DB
}

// NewModuleRepository 创建Repository实例
func NewModuleRepository(db *gorm.DB) ModuleRepository {
	return &moduleRepo{db: db}
}

func (r *moduleRepo) Create(module *models.Module) error {
	return r.db.Create(module).Error
}

func (r *moduleRepo) Save(module *models.Module) error {
	return r.db.Save(module).Error
}

func (r *moduleRepo) FindByID(id uint) (*models.Module, error) {
	return r.first(r.db, id)
}

func (r *moduleRepo) FindByIDForUpdate(id uint) (*models.Module, error) {
	return r.first(forUpdate(r.db), id)
}

func (r *moduleRepo) first(db *gorm.DB, id uint) (*models.Module, error) {
	var module models.Module
	err := db.Where("id = ? AND enabled = ?", id, true).First(&module).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &module, nil
}

// LockByIDs loads the given modules, row-locked in id order where supported.
func (r *moduleRepo) LockByIDs(ids []uint) ([]models.Module, error) {
	var modules []models.Module
	if len(ids) == 0 {
		return modules, nil
	}
	err := forUpdate(r.db).Where("id IN ? AND enabled = ?", ids, true).Order("id").Find(&modules).Error
	return modules, err
}

func siblings(projectID uint, parentID *uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("project_id = ? AND enabled = ?", projectID, true)
		if parentID == nil {
			return db.Where("parent_id IS NULL")
		}
		return db.Where("parent_id = ?", *parentID)
	}
}

func (r *moduleRepo) FindSiblingByName(projectID uint, parentID *uint, name string, excludeID uint) (*models.Module, error) {
	var module models.Module
	err := r.db.Scopes(siblings(projectID, parentID)).
		Where("name = ? AND id <> ?", name, excludeID).
		First(&module).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &module, nil
}

func (r *moduleRepo) FindSiblingBySortOrder(projectID uint, parentID *uint, sortOrder int, excludeID uint) (*models.Module, error) {
	var module models.Module
	err := r.db.Scopes(siblings(projectID, parentID)).
		Where("sort_order = ? AND id <> ?", sortOrder, excludeID).
		First(&module).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &module, nil
}

func (r *moduleRepo) MaxSiblingSortOrder(projectID uint, parentID *uint) (int, error) {
	var max sql.NullInt64
	err := r.db.Model(&models.Module{}).
		Scopes(siblings(projectID, parentID)).
		Select("MAX(sort_order)").
		Row().Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

func (r *moduleRepo) CountChildren(id uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Module{}).
		Where("parent_id = ? AND enabled = ?", id, true).
		Count(&count).Error
	return count, err
}

func (r *moduleRepo) FindByProject(projectID uint) ([]models.Module, error) {
	var modules []models.Module
	err := r.db.Where("project_id = ? AND enabled = ?", projectID, true).
		Order("depth, sort_order, id").
		Find(&modules).Error
	return modules, err
}

// prefixQuery selects the subtree below prefix: rows whose path equals prefix
// (direct children) or continues it with another separator-delimited segment.
func (r *moduleRepo) prefixQuery(projectID uint, prefix, sep string) *gorm.DB {
	return r.db.Model(&models.Module{}).
		Where("project_id = ? AND enabled = ?", projectID, true).
		Where("(materialized_path = ? OR materialized_path LIKE ? ESCAPE '"+likeEscape+"')",
			prefix, escapeLike(prefix+sep)+"%").
		Order("depth, sort_order, id")
}

// inSubtree re-checks the prefix match case-sensitively; LIKE folds case on
// sqlite and on MySQL's default collations.
func inSubtree(path, prefix, sep string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+sep)
}

func (r *moduleRepo) FindByPathPrefix(projectID uint, prefix, sep string) ([]models.Module, error) {
	var modules []models.Module
	err := r.WalkByPathPrefix(projectID, prefix, sep, func(m *models.Module) error {
		modules = append(modules, *m)
		return nil
	})
	return modules, err
}

// WalkByPathPrefix streams the subtree row by row. fn must not use the same
// connection while the cursor is open.
func (r *moduleRepo) WalkByPathPrefix(projectID uint, prefix, sep string, fn func(*models.Module) error) error {
	rows, err := r.prefixQuery(projectID, prefix, sep).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var module models.Module
		if err := r.db.ScanRows(rows, &module); err != nil {
			return err
		}
		if !inSubtree(module.Path, prefix, sep) {
			continue
		}
		if err := fn(&module); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *moduleRepo) UpdatePlacement(id uint, parentID *uint, path string, depth int, operatorID uint) error {
	fields := map[string]interface{}{
		"materialized_path": path,
		"depth":             depth,
		"updated_by":        operatorID,
	}
	if parentID == nil {
		fields["parent_id"] = nil
	} else {
		fields["parent_id"] = *parentID
	}
	return r.UpdateFields(id, fields)
}

func (r *moduleRepo) UpdateFields(id uint, fields map[string]interface{}) error {
	return r.db.Model(&models.Module{}).Where("id = ?", id).Updates(fields).Error
}

func (r *moduleRepo) Disable(id uint, operatorID uint) error {
	return r.UpdateFields(id, map[string]interface{}{
		"enabled":    false,
		"updated_by": operatorID,
	})
}
