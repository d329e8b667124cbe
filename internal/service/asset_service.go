package service

import (
	"context"

	"emperror.dev/errors"
	"github.com/apex/log"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/caseid"
	"test-asset-service/internal/config"
	"test-asset-service/internal/lifecycle"
	"test-asset-service/internal/lock"
	"test-asset-service/internal/models"
	"test-asset-service/internal/moduletree"
	"test-asset-service/internal/repository"
	"test-asset-service/internal/steps"
)

// AssetService 测试资产服务接口
//
// Every mutating call takes the operator id explicitly. Permission checks
// happen in the caller.
type AssetService interface {
	// Module operations
	CreateModule(ctx context.Context, req *CreateModuleRequest, operatorID uint) (*models.Module, error)
	RenameModule(ctx context.Context, id uint, name string, operatorID uint) (*models.Module, error)
	MoveModule(ctx context.Context, id uint, newParentID *uint, operatorID uint) (*models.Module, error)
	ReorderModule(ctx context.Context, id uint, sortOrder int, operatorID uint) (*models.Module, error)
	DeleteModule(ctx context.Context, id uint, operatorID uint) error
	GetModule(ctx context.Context, id uint) (*models.Module, error)
	GetModuleTree(ctx context.Context, projectID uint) ([]models.Module, error)
	GetDescendants(ctx context.Context, id uint) ([]models.Module, error)
	CountTestCases(ctx context.Context, moduleID uint) (int64, error)

	// Test case operations
	CreateTestCase(ctx context.Context, req *CreateTestCaseRequest, operatorID uint) (*models.TestCase, error)
	UpdateTestCase(ctx context.Context, id uint, req *UpdateTestCaseRequest, operatorID uint) (*models.TestCase, error)
	DeleteTestCase(ctx context.Context, id uint, operatorID uint) error
	MoveTestCase(ctx context.Context, id uint, moduleID uint, operatorID uint) (*models.TestCase, error)
	ReorderTestCase(ctx context.Context, id uint, sortOrder int, operatorID uint) (*models.TestCase, error)
	GetTestCase(ctx context.Context, id uint) (*models.TestCase, error)
	GetTestCaseByCaseID(ctx context.Context, caseID string) (*models.TestCase, error)
	ListTestCases(ctx context.Context, moduleID uint) ([]models.TestCase, error)

	// Review workflow
	Transition(ctx context.Context, id uint, action lifecycle.Action, in lifecycle.Input) (*models.TestCase, error)
	Submit(ctx context.Context, id uint, operatorID uint) (*models.TestCase, error)
	Approve(ctx context.Context, id uint, reviewerID uint, comment string) (*models.TestCase, error)
	Reject(ctx context.Context, id uint, reviewerID uint, comment string) (*models.TestCase, error)
	ReviewHistory(ctx context.Context, id uint) ([]models.CaseReviewRecord, error)
	CheckExecutable(ctx context.Context, id uint) (*models.TestCase, error)

	// Step operations
	ListSteps(ctx context.Context, caseID uint) ([]models.TestStep, error)
	GetStep(ctx context.Context, stepID uint) (*models.TestStep, error)
	AppendStep(ctx context.Context, caseID uint, in steps.StepInput, operatorID uint) (*models.TestStep, error)
	InsertStep(ctx context.Context, caseID uint, position int, in steps.StepInput, operatorID uint) (*models.TestStep, error)
	MoveStep(ctx context.Context, stepID uint, newOrder int, operatorID uint) (*models.TestStep, error)
	UpdateStep(ctx context.Context, stepID uint, in steps.StepInput, operatorID uint) (*models.TestStep, error)
	RemoveStep(ctx context.Context, stepID uint, operatorID uint) error
}

type assetService struct {
	store     *repository.Store
	locker    *lock.Locker
	tree      *moduletree.Tree
	steps     *steps.Sequencer
	ids       *caseid.Generator
	lifecycle *lifecycle.Service
	events    Publisher
}

// NewAssetService creates the asset service. A nil publisher drops events.
func NewAssetService(store *repository.Store, cfg config.AssetConfig, events Publisher) AssetService {
	if events == nil {
		events = nopPublisher{}
	}
	locker := lock.NewLocker()
	return &assetService{
		store:     store,
		locker:    locker,
		tree:      moduletree.New(store, locker, cfg),
		steps:     steps.New(store, locker),
		ids:       caseid.New(store, cfg),
		lifecycle: lifecycle.NewService(store, locker),
		events:    events,
	}
}

// ===== Request/Response DTOs =====

type CreateModuleRequest struct {
	ProjectID   uint   `json:"projectId" binding:"required"`
	ParentID    *uint  `json:"parentId"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	SortOrder   *int   `json:"sortOrder"`
}

type CreateTestCaseRequest struct {
	ProjectID     uint              `json:"projectId" binding:"required"`
	ModuleID      uint              `json:"moduleId" binding:"required"`
	Title         string            `json:"title" binding:"required"`
	Type          string            `json:"type"`
	Priority      models.Priority   `json:"priority"`
	Automated     bool              `json:"automated"`
	Objective     string            `json:"objective"`
	Preconditions string            `json:"preconditions"`
	Tags          []string          `json:"tags"`
	Steps         []steps.StepInput `json:"steps"`
}

type UpdateTestCaseRequest struct {
	Title         string          `json:"title"`
	Type          string          `json:"type"`
	Priority      models.Priority `json:"priority"`
	Automated     *bool           `json:"automated"`
	Objective     *string         `json:"objective"`
	Preconditions *string         `json:"preconditions"`
	Tags          []string        `json:"tags"`
}

func toJSONArray(tags []string) models.JSONArray {
	arr := make(models.JSONArray, 0, len(tags))
	for _, tag := range tags {
		arr = append(arr, tag)
	}
	return arr
}

// ===== Module Operations =====

func (s *assetService) CreateModule(ctx context.Context, req *CreateModuleRequest, operatorID uint) (*models.Module, error) {
	module, err := s.tree.Create(ctx, moduletree.CreateInput{
		ProjectID:   req.ProjectID,
		ParentID:    req.ParentID,
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
		OperatorID:  operatorID,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"project":  module.ProjectID,
		"module":   module.ID,
		"path":     module.Path,
		"operator": operatorID,
	}).Info("module created")
	s.events.Publish(module.ProjectID, EventModuleCreated, module)
	return module, nil
}

func (s *assetService) RenameModule(ctx context.Context, id uint, name string, operatorID uint) (*models.Module, error) {
	module, err := s.tree.Rename(ctx, id, name, operatorID)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"module":   id,
		"name":     name,
		"operator": operatorID,
	}).Info("module renamed")
	s.events.Publish(module.ProjectID, EventModuleRenamed, module)
	return module, nil
}

func (s *assetService) MoveModule(ctx context.Context, id uint, newParentID *uint, operatorID uint) (*models.Module, error) {
	module, err := s.tree.Move(ctx, id, newParentID, operatorID)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"module":   id,
		"parent":   newParentID,
		"path":     module.Path,
		"depth":    module.Depth,
		"operator": operatorID,
	}).Info("module moved")
	s.events.Publish(module.ProjectID, EventModuleMoved, module)
	return module, nil
}

func (s *assetService) ReorderModule(ctx context.Context, id uint, sortOrder int, operatorID uint) (*models.Module, error) {
	module, err := s.tree.Reorder(ctx, id, sortOrder, operatorID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(module.ProjectID, EventModuleReordered, module)
	return module, nil
}

func (s *assetService) DeleteModule(ctx context.Context, id uint, operatorID uint) error {
	module, err := s.tree.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.tree.Delete(ctx, id, operatorID); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"module":   id,
		"operator": operatorID,
	}).Info("module deleted")
	s.events.Publish(module.ProjectID, EventModuleDeleted, module)
	return nil
}

func (s *assetService) GetModule(ctx context.Context, id uint) (*models.Module, error) {
	return s.tree.Get(ctx, id)
}

func (s *assetService) GetModuleTree(ctx context.Context, projectID uint) ([]models.Module, error) {
	return s.tree.Tree(ctx, projectID)
}

func (s *assetService) GetDescendants(ctx context.Context, id uint) ([]models.Module, error) {
	return s.tree.Descendants(ctx, id)
}

func (s *assetService) CountTestCases(ctx context.Context, moduleID uint) (int64, error) {
	return s.tree.CountTestCasesRecursive(ctx, moduleID)
}

// moduleIn loads an enabled module and checks it belongs to projectID.
func moduleIn(tx *repository.Store, projectID, moduleID uint) (*models.Module, error) {
	module, err := tx.Modules.FindByIDForUpdate(moduleID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load module %d", moduleID)
	}
	if module == nil || module.ProjectID != projectID {
		return nil, apperr.NotFound("module", moduleID)
	}
	return module, nil
}
