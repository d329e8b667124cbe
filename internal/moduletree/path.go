package moduletree

import (
	"strings"
	"unicode/utf8"

	"test-asset-service/internal/apperr"
	"test-asset-service/internal/models"
)

// PathBuilder derives materialized paths and depths. It holds no state
// beyond the separator.
type PathBuilder struct {
	Sep string
}

// Placement returns the path and depth a child of parent must carry.
// A nil parent places the module at the root: empty path, depth 1.
func (b PathBuilder) Placement(parent *models.Module) (string, int) {
	if parent == nil {
		return "", 1
	}
	return b.ChildPrefix(parent), parent.Depth + 1
}

// ChildPrefix is the path every direct child of m carries; deeper
// descendants extend it with further segments.
func (b PathBuilder) ChildPrefix(m *models.Module) string {
	return m.Path + b.Sep + m.Name
}

// Segments splits a path into ancestor names, root first.
func (b PathBuilder) Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, b.Sep), b.Sep)
}

// CheckName rejects names that cannot be encoded in a path.
func (b PathBuilder) CheckName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.InvalidOperation("module", nil, "name must not be empty")
	}
	if strings.Contains(name, b.Sep) {
		return apperr.InvalidOperation("module", nil, "name %q must not contain %q", name, b.Sep)
	}
	if n := utf8.RuneCountInString(name); n > models.ModuleNameMaxLen {
		return apperr.InvalidOperation("module", nil, "name is %d characters long, the maximum is %d", n, models.ModuleNameMaxLen)
	}
	return nil
}

// CheckPath rejects a path longer than the stored column.
func (b PathBuilder) CheckPath(id any, path string) error {
	if n := utf8.RuneCountInString(path); n > models.ModulePathMaxLen {
		return apperr.InvalidOperation("module", id, "path is %d characters long, the maximum is %d", n, models.ModulePathMaxLen)
	}
	return nil
}
