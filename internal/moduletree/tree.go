// Package moduletree maintains the per-project forest of test modules.
//
// Every module stores the names of its ancestors as a materialized path, so a
// subtree is one prefix scan. Rename and move cascade the recomputed path and
// depth to every descendant inside the same transaction, parents first.
package moduletree

import (
	"context"

	"emperror.dev/errors"
	"github.com/apex/log"
	mapset "github.com/deckarep/golang-set/v2"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/config"
	"test-asset-service/internal/lock"
	"test-asset-service/internal/models"
	"test-asset-service/internal/repository"
)

// countChunk bounds the IN list when counting cases over a large subtree.
const countChunk = 500

// CreateInput 创建模块参数
type CreateInput struct {
	ProjectID   uint
	ParentID    *uint
	Name        string
	Description string
	SortOrder   *int
	OperatorID  uint
}

// Tree 模块树
type Tree struct {
	store    *repository.Store
	locker   *lock.Locker
	paths    PathBuilder
	maxDepth int
}

// New 创建模块树实例
func New(store *repository.Store, locker *lock.Locker, cfg config.AssetConfig) *Tree {
	return &Tree{
		store:    store,
		locker:   locker,
		paths:    PathBuilder{Sep: cfg.PathSeparator},
		maxDepth: cfg.MaxDepth,
	}
}

// Paths exposes the path builder the tree was configured with.
func (t *Tree) Paths() PathBuilder {
	return t.paths
}

// mutate serializes structural changes of one project and runs fn in a transaction.
func (t *Tree) mutate(ctx context.Context, projectID uint, fn func(tx *repository.Store) error) error {
	return t.locker.Do(ctx, lock.ProjectKey(projectID), func() error {
		return t.store.Transaction(ctx, fn)
	})
}

// Get returns an enabled module.
func (t *Tree) Get(ctx context.Context, id uint) (*models.Module, error) {
	return load(t.store.WithContext(ctx), id, false)
}

func load(store *repository.Store, id uint, forUpdate bool) (*models.Module, error) {
	var (
		module *models.Module
		err    error
	)
	if forUpdate {
		module, err = store.Modules.FindByIDForUpdate(id)
	} else {
		module, err = store.Modules.FindByID(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load module %d", id)
	}
	if module == nil {
		return nil, apperr.NotFound("module", id)
	}
	return module, nil
}

// Create adds a module under in.ParentID, or as a root when it is nil.
func (t *Tree) Create(ctx context.Context, in CreateInput) (*models.Module, error) {
	if err := t.paths.CheckName(in.Name); err != nil {
		return nil, err
	}

	var created *models.Module
	err := t.mutate(ctx, in.ProjectID, func(tx *repository.Store) error {
		var parent *models.Module
		if in.ParentID != nil {
			p, err := tx.Modules.FindByIDForUpdate(*in.ParentID)
			if err != nil {
				return errors.Wrapf(err, "failed to load module %d", *in.ParentID)
			}
			if p == nil || p.ProjectID != in.ProjectID {
				return apperr.NotFound("module", *in.ParentID)
			}
			parent = p
		}

		path, depth := t.paths.Placement(parent)
		if err := t.checkPlacement(0, path, depth); err != nil {
			return err
		}

		if err := t.checkSiblingName(tx, in.ProjectID, in.ParentID, in.Name, 0); err != nil {
			return err
		}

		sortOrder, err := t.placeSortOrder(tx, in.ProjectID, in.ParentID, in.SortOrder, 0)
		if err != nil {
			return err
		}

		module := &models.Module{
			ProjectID:   in.ProjectID,
			ParentID:    in.ParentID,
			Name:        in.Name,
			Description: in.Description,
			Path:        path,
			Depth:       depth,
			SortOrder:   sortOrder,
			Enabled:     true,
			CreatedBy:   in.OperatorID,
			UpdatedBy:   in.OperatorID,
		}
		if err := tx.Modules.Create(module); err != nil {
			return errors.Wrap(err, "failed to create module")
		}
		created = module
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Rename changes a module's name and rewrites the path of every descendant.
// The module's own path and every depth stay as they are.
func (t *Tree) Rename(ctx context.Context, id uint, newName string, operatorID uint) (*models.Module, error) {
	if err := t.paths.CheckName(newName); err != nil {
		return nil, err
	}
	current, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var renamed *models.Module
	err = t.mutate(ctx, current.ProjectID, func(tx *repository.Store) error {
		module, err := load(tx, id, true)
		if err != nil {
			return err
		}
		if module.Name == newName {
			renamed = module
			return nil
		}
		if err := t.checkSiblingName(tx, module.ProjectID, module.ParentID, newName, module.ID); err != nil {
			return err
		}

		oldPrefix := t.paths.ChildPrefix(module)
		if err := tx.Modules.UpdateFields(module.ID, map[string]interface{}{
			"name":       newName,
			"updated_by": operatorID,
		}); err != nil {
			return errors.Wrap(err, "failed to rename module")
		}
		module.Name = newName

		if _, err := t.cascade(tx, module, oldPrefix, operatorID); err != nil {
			return err
		}
		renamed, err = load(tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// Move re-parents a module, or makes it a root when newParentID is nil, and
// recomputes the placement of its whole subtree. The module goes last among
// its new siblings.
func (t *Tree) Move(ctx context.Context, id uint, newParentID *uint, operatorID uint) (*models.Module, error) {
	if newParentID != nil && *newParentID == id {
		return nil, apperr.InvalidOperation("module", id, "cannot move a module under itself")
	}
	current, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var moved *models.Module
	err = t.mutate(ctx, current.ProjectID, func(tx *repository.Store) error {
		module, err := load(tx, id, true)
		if err != nil {
			return err
		}
		if models.SameParent(module.ParentID, newParentID) {
			moved = module
			return nil
		}

		var parent *models.Module
		if newParentID != nil {
			parent, err = load(tx, *newParentID, true)
			if err != nil {
				return err
			}
			if parent.ProjectID != module.ProjectID {
				return apperr.InvalidOperation("module", id,
					"cannot move to module %d of project %d", parent.ID, parent.ProjectID)
			}
			if err := t.checkAncestry(tx, module.ID, parent); err != nil {
				return err
			}
		}

		if err := t.checkSiblingName(tx, module.ProjectID, newParentID, module.Name, module.ID); err != nil {
			return err
		}

		path, depth := t.paths.Placement(parent)
		if err := t.checkPlacement(module.ID, path, depth); err != nil {
			return err
		}
		sortOrder, err := t.placeSortOrder(tx, module.ProjectID, newParentID, nil, module.ID)
		if err != nil {
			return err
		}

		oldPrefix := t.paths.ChildPrefix(module)
		fields := map[string]interface{}{
			"materialized_path": path,
			"depth":             depth,
			"sort_order":        sortOrder,
			"updated_by":        operatorID,
		}
		if newParentID == nil {
			fields["parent_id"] = nil
		} else {
			fields["parent_id"] = *newParentID
		}
		if err := tx.Modules.UpdateFields(module.ID, fields); err != nil {
			return errors.Wrap(err, "failed to move module")
		}
		module.ParentID = newParentID
		module.Path = path
		module.Depth = depth
		module.SortOrder = sortOrder

		if _, err := t.cascade(tx, module, oldPrefix, operatorID); err != nil {
			return err
		}
		moved, err = load(tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Reorder changes only the module's sortOrder.
func (t *Tree) Reorder(ctx context.Context, id uint, newSortOrder int, operatorID uint) (*models.Module, error) {
	current, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var reordered *models.Module
	err = t.mutate(ctx, current.ProjectID, func(tx *repository.Store) error {
		module, err := load(tx, id, true)
		if err != nil {
			return err
		}
		if module.SortOrder == newSortOrder {
			reordered = module
			return nil
		}
		if _, err := t.placeSortOrder(tx, module.ProjectID, module.ParentID, &newSortOrder, module.ID); err != nil {
			return err
		}
		if err := tx.Modules.UpdateFields(module.ID, map[string]interface{}{
			"sort_order": newSortOrder,
			"updated_by": operatorID,
		}); err != nil {
			return errors.Wrap(err, "failed to reorder module")
		}
		reordered, err = load(tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reordered, nil
}

// Delete soft-deletes a module that has no enabled children and no enabled cases.
func (t *Tree) Delete(ctx context.Context, id uint, operatorID uint) error {
	current, err := t.Get(ctx, id)
	if err != nil {
		return err
	}

	return t.mutate(ctx, current.ProjectID, func(tx *repository.Store) error {
		module, err := load(tx, id, true)
		if err != nil {
			return err
		}

		children, err := tx.Modules.CountChildren(module.ID)
		if err != nil {
			return errors.Wrap(err, "failed to count child modules")
		}
		if children > 0 {
			return apperr.InvalidOperation("module", id, "has %d child modules", children)
		}

		cases, err := tx.Cases.CountByModules([]uint{module.ID})
		if err != nil {
			return errors.Wrap(err, "failed to count test cases")
		}
		if cases > 0 {
			return apperr.InvalidOperation("module", id, "has %d test cases", cases)
		}

		if err := tx.Modules.Disable(module.ID, operatorID); err != nil {
			return errors.Wrap(err, "failed to delete module")
		}
		return nil
	})
}

// Descendants returns every enabled module below id ordered by depth, then
// sortOrder. The module itself is not included.
func (t *Tree) Descendants(ctx context.Context, id uint) ([]models.Module, error) {
	module, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	modules, err := t.store.WithContext(ctx).Modules.FindByPathPrefix(module.ProjectID, t.paths.ChildPrefix(module), t.paths.Sep)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load descendants")
	}
	return modules, nil
}

// WalkDescendants streams the same sequence as Descendants. fn must not call
// back into the tree or the store while the walk is open.
func (t *Tree) WalkDescendants(ctx context.Context, id uint, fn func(*models.Module) error) error {
	module, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	return t.store.WithContext(ctx).Modules.WalkByPathPrefix(module.ProjectID, t.paths.ChildPrefix(module), t.paths.Sep, fn)
}

// CountTestCasesRecursive counts the enabled cases of id and all its descendants.
func (t *Tree) CountTestCasesRecursive(ctx context.Context, id uint) (int64, error) {
	module, err := t.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	ids := mapset.NewThreadUnsafeSet[uint](module.ID)
	err = t.WalkDescendants(ctx, id, func(m *models.Module) error {
		ids.Add(m.ID)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to walk descendants")
	}

	store := t.store.WithContext(ctx)
	all := ids.ToSlice()
	var total int64
	for start := 0; start < len(all); start += countChunk {
		end := start + countChunk
		if end > len(all) {
			end = len(all)
		}
		count, err := store.Cases.CountByModules(all[start:end])
		if err != nil {
			return 0, errors.Wrap(err, "failed to count test cases")
		}
		total += count
	}
	return total, nil
}

// Tree returns the project's enabled modules as nested roots.
func (t *Tree) Tree(ctx context.Context, projectID uint) ([]models.Module, error) {
	modules, err := t.store.WithContext(ctx).Modules.FindByProject(projectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load modules")
	}

	// 构建 map 用于快速查找
	moduleMap := make(map[uint]*models.Module, len(modules))
	childMap := make(map[uint][]uint) // parentID -> []childID
	for i := range modules {
		moduleMap[modules[i].ID] = &modules[i]
		if modules[i].ParentID != nil {
			childMap[*modules[i].ParentID] = append(childMap[*modules[i].ParentID], modules[i].ID)
		}
	}

	// 递归构建节点及其子节点
	var buildNode func(id uint) models.Module
	buildNode = func(id uint) models.Module {
		module := *moduleMap[id]
		module.Children = []models.Module{}
		for _, childID := range childMap[id] {
			module.Children = append(module.Children, buildNode(childID))
		}
		return module
	}

	roots := []models.Module{}
	for i := range modules {
		if modules[i].IsRoot() {
			roots = append(roots, buildNode(modules[i].ID))
		}
	}
	return roots, nil
}

func (t *Tree) checkSiblingName(tx *repository.Store, projectID uint, parentID *uint, name string, excludeID uint) error {
	sibling, err := tx.Modules.FindSiblingByName(projectID, parentID, name, excludeID)
	if err != nil {
		return errors.Wrap(err, "failed to check sibling names")
	}
	if sibling != nil {
		return apperr.Conflict("module", sibling.ID, "name %q is already used by a sibling", name)
	}
	return nil
}

// placeSortOrder validates an explicit sortOrder or picks max(siblings)+1.
func (t *Tree) placeSortOrder(tx *repository.Store, projectID uint, parentID *uint, requested *int, excludeID uint) (int, error) {
	if requested != nil {
		sibling, err := tx.Modules.FindSiblingBySortOrder(projectID, parentID, *requested, excludeID)
		if err != nil {
			return 0, errors.Wrap(err, "failed to check sibling sort order")
		}
		if sibling != nil {
			return 0, apperr.Conflict("module", sibling.ID, "sortOrder %d is already used by a sibling", *requested)
		}
		return *requested, nil
	}
	max, err := tx.Modules.MaxSiblingSortOrder(projectID, parentID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read sibling sort order")
	}
	return max + 1, nil
}

// checkPlacement bounds the depth and the stored path length of a module.
func (t *Tree) checkPlacement(id uint, path string, depth int) error {
	var ref any
	if id != 0 {
		ref = id
	}
	if t.maxDepth > 0 && depth > t.maxDepth {
		return apperr.InvalidOperation("module", ref, "depth %d exceeds the maximum of %d", depth, t.maxDepth)
	}
	return t.paths.CheckPath(ref, path)
}

// checkAncestry walks from parent up to its root and fails if it meets id.
// The walk is bounded by the parent's depth; a repeated id means the stored
// chain is corrupt.
func (t *Tree) checkAncestry(tx *repository.Store, id uint, parent *models.Module) error {
	visited := mapset.NewThreadUnsafeSet[uint]()
	limit := parent.Depth
	if t.maxDepth > limit {
		limit = t.maxDepth
	}

	current := parent
	for current != nil {
		if current.ID == id {
			return apperr.InvalidOperation("module", id, "module %d is one of its descendants", parent.ID)
		}
		if !visited.Add(current.ID) || visited.Cardinality() > limit+1 {
			return apperr.InvalidOperation("module", current.ID, "ancestor chain is corrupt")
		}
		if current.ParentID == nil {
			return nil
		}
		next, err := tx.Modules.FindByID(*current.ParentID)
		if err != nil {
			return errors.Wrapf(err, "failed to load module %d", *current.ParentID)
		}
		current = next
	}
	return nil
}

// cascade recomputes path and depth for the subtree below root. root's own
// row must already be written; oldPrefix is the child prefix it had before.
// Nodes are visited breadth-first so every parent is correct before its children.
func (t *Tree) cascade(tx *repository.Store, root *models.Module, oldPrefix string, operatorID uint) (int, error) {
	subtree, err := tx.Modules.FindByPathPrefix(root.ProjectID, oldPrefix, t.paths.Sep)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load subtree")
	}
	if len(subtree) == 0 {
		return 0, nil
	}

	nodes := make(map[uint]*models.Module, len(subtree))
	children := make(map[uint][]uint)
	for i := range subtree {
		node := &subtree[i]
		nodes[node.ID] = node
		if node.ParentID != nil {
			children[*node.ParentID] = append(children[*node.ParentID], node.ID)
		}
	}

	updated := 0
	queue := []*models.Module{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, childID := range children[parent.ID] {
			child := nodes[childID]
			path, depth := t.paths.Placement(parent)
			if err := t.checkPlacement(child.ID, path, depth); err != nil {
				return 0, err
			}
			if child.Path != path || child.Depth != depth {
				if err := tx.Modules.UpdatePlacement(child.ID, child.ParentID, path, depth, operatorID); err != nil {
					return 0, errors.Wrapf(err, "failed to update module %d", child.ID)
				}
				child.Path = path
				child.Depth = depth
				updated++
			}
			queue = append(queue, child)
		}
	}

	log.WithFields(log.Fields{
		"module":  root.ID,
		"subtree": len(subtree),
		"updated": updated,
	}).Debug("cascaded module placement")
	return updated, nil
}
