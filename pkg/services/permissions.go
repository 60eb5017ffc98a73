package services

import (
	"sort"

	"github.com/labbook-edu/labbook-engine/pkg/models"
)

// Caller identifies the authenticated user for service calls. Ownership
// and group membership are resolved per record by the services.
type Caller struct {
	UserID     string
	Instructor bool
}

// CallerContext is the fully resolved relationship between a caller and
// one record, as fed to permission resolution.
type CallerContext struct {
	UserID        string
	IsInstructor  bool
	IsOwner       bool
	IsGroupMember bool
}

// IsOwnerOrMember reports whether owner-keyed permissions can apply.
func (c CallerContext) IsOwnerOrMember() bool {
	return c.IsOwner || c.IsGroupMember
}

// PermissionSet is the set of permission keys a caller holds at a stage.
type PermissionSet map[models.PermissionKey]struct{}

// Has reports whether the set contains the key.
func (p PermissionSet) Has(key models.PermissionKey) bool {
	_, ok := p[key]
	return ok
}

// CanEdit reports whether the set grants field editing.
func (p PermissionSet) CanEdit() bool {
	return p.Has(models.OwnerCanEdit) || p.Has(models.OwnerCanEditCommented)
}

// Keys returns the keys in stable order, for responses and logs.
func (p PermissionSet) Keys() []models.PermissionKey {
	keys := make([]models.PermissionKey, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PermissionService resolves the permission keys a caller holds at a
// record's current stage. Resolution is pure: it reads only the stage
// graph and the caller context, never storage.
type PermissionService struct {
	graph *StageGraph
}

// NewPermissionService creates a permission service over the graph.
func NewPermissionService(graph *StageGraph) *PermissionService {
	return &PermissionService{graph: graph}
}

// Resolve returns the permission keys granted to the caller at the
// stage. A permission row contributes its key when the stage's sort
// order falls inside the row's range and the key's audience matches:
// instructor keys require the instructor relationship, owner keys
// require ownership or group membership.
func (s *PermissionService) Resolve(stage *models.Stage, caller CallerContext) PermissionSet {
	return ResolvePermissions(s.graph.PermissionsForStage(stage), caller)
}

// ResolvePermissions applies the audience rules to pre-filtered rows.
func ResolvePermissions(rows []*models.StagePermission, caller CallerContext) PermissionSet {
	set := make(PermissionSet)
	for _, row := range rows {
		switch {
		case row.Key.IsInstructorKey() && caller.IsInstructor:
			set[row.Key] = struct{}{}
		case row.Key.IsOwnerKey() && caller.IsOwnerOrMember():
			set[row.Key] = struct{}{}
		}
	}
	return set
}
