package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// StageGraph holds the authored workflow data for every stage type:
// stages, permission ranges and the legal-movement tables. It is built
// once at startup and never mutated, so lookups need no locking.
type StageGraph struct {
	types        map[uuid.UUID]*models.StageType
	typesByValue map[string]*models.StageType
	stages       map[uuid.UUID]*models.Stage
	stagesByType map[uuid.UUID][]*models.Stage
	transitions  map[transitionKey]*models.StageTransition
	permissions  map[uuid.UUID][]*models.StagePermission
}

type transitionKey struct {
	from   uuid.UUID
	action models.StageAction
}

// LoadStageGraph reads the authored stage data and builds the graph.
// Any integrity failure is fatal for startup.
func LoadStageGraph(ctx context.Context, repo repositories.StageRepository) (*StageGraph, error) {
	types, err := repo.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage types: %w", err)
	}
	stages, err := repo.ListStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}
	perms, err := repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage permissions: %w", err)
	}
	transitions, err := repo.ListTransitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage transitions: %w", err)
	}
	return NewStageGraph(types, stages, perms, transitions)
}

// NewStageGraph builds and validates the graph. It rejects unknown type
// references, duplicate sort orders within a type, next-stage chains
// that leave the type or cycle, and transitions whose endpoints do not
// both belong to the declared type.
func NewStageGraph(
	types []*models.StageType,
	stages []*models.Stage,
	perms []*models.StagePermission,
	transitions []*models.StageTransition,
) (*StageGraph, error) {
	g := &StageGraph{
		types:        make(map[uuid.UUID]*models.StageType, len(types)),
		typesByValue: make(map[string]*models.StageType, len(types)),
		stages:       make(map[uuid.UUID]*models.Stage, len(stages)),
		stagesByType: make(map[uuid.UUID][]*models.Stage),
		transitions:  make(map[transitionKey]*models.StageTransition, len(transitions)),
		permissions:  make(map[uuid.UUID][]*models.StagePermission),
	}

	for _, t := range types {
		if _, dup := g.typesByValue[t.Value]; dup {
			return nil, apperrors.SchemaIntegrity("duplicate stage type %q", t.Value)
		}
		g.types[t.ID] = t
		g.typesByValue[t.Value] = t
	}

	sortSeen := make(map[uuid.UUID]map[int]bool)
	for _, s := range stages {
		if _, ok := g.types[s.TypeID]; !ok {
			return nil, apperrors.SchemaIntegrity("stage %q references unknown type %s", s.Value, s.TypeID)
		}
		if _, dup := g.stages[s.ID]; dup {
			return nil, apperrors.SchemaIntegrity("duplicate stage id %s", s.ID)
		}
		if sortSeen[s.TypeID] == nil {
			sortSeen[s.TypeID] = make(map[int]bool)
		}
		if sortSeen[s.TypeID][s.SortOrder] {
			return nil, apperrors.SchemaIntegrity("duplicate sort order %d in type %s", s.SortOrder, g.types[s.TypeID].Value)
		}
		sortSeen[s.TypeID][s.SortOrder] = true
		g.stages[s.ID] = s
		g.stagesByType[s.TypeID] = append(g.stagesByType[s.TypeID], s)
	}
	for _, list := range g.stagesByType {
		sort.Slice(list, func(i, j int) bool { return list[i].SortOrder < list[j].SortOrder })
	}

	// Next-stage hints must stay within the type and never cycle.
	for _, s := range stages {
		if s.NextStageID == nil {
			continue
		}
		next, ok := g.stages[*s.NextStageID]
		if !ok {
			return nil, apperrors.SchemaIntegrity("stage %q has unknown next stage %s", s.Value, *s.NextStageID)
		}
		if next.TypeID != s.TypeID {
			return nil, apperrors.SchemaIntegrity("stage %q next stage crosses types", s.Value)
		}
	}
	for _, s := range stages {
		visited := map[uuid.UUID]bool{}
		for cur := s; cur.NextStageID != nil; cur = g.stages[*cur.NextStageID] {
			if visited[cur.ID] {
				return nil, apperrors.SchemaIntegrity("next-stage cycle at stage %q", cur.Value)
			}
			visited[cur.ID] = true
		}
	}

	for _, p := range perms {
		if _, ok := g.types[p.TypeID]; !ok {
			return nil, apperrors.SchemaIntegrity("permission %s references unknown type %s", p.Key, p.TypeID)
		}
		if !p.Key.IsValid() {
			return nil, apperrors.SchemaIntegrity("unknown permission key %q", p.Key)
		}
		if p.MinSortOrder > p.MaxSortOrder {
			return nil, apperrors.SchemaIntegrity("permission %s has inverted sort range [%d,%d]", p.Key, p.MinSortOrder, p.MaxSortOrder)
		}
		g.permissions[p.TypeID] = append(g.permissions[p.TypeID], p)
	}

	for _, t := range transitions {
		if !t.Action.IsValid() {
			return nil, apperrors.SchemaIntegrity("unknown stage action %q", t.Action)
		}
		from, ok := g.stages[t.FromStageID]
		if !ok {
			return nil, apperrors.SchemaIntegrity("transition %s references unknown from-stage %s", t.Action, t.FromStageID)
		}
		to, ok := g.stages[t.ToStageID]
		if !ok {
			return nil, apperrors.SchemaIntegrity("transition %s references unknown to-stage %s", t.Action, t.ToStageID)
		}
		if from.TypeID != t.TypeID || to.TypeID != t.TypeID {
			return nil, apperrors.SchemaIntegrity("transition %s from %q crosses types", t.Action, from.Value)
		}
		if t.RequiredKey != nil && !t.RequiredKey.IsValid() {
			return nil, apperrors.SchemaIntegrity("transition %s has unknown required key %q", t.Action, *t.RequiredKey)
		}
		key := transitionKey{from: t.FromStageID, action: t.Action}
		if _, dup := g.transitions[key]; dup {
			return nil, apperrors.SchemaIntegrity("duplicate transition %s from stage %q", t.Action, from.Value)
		}
		g.transitions[key] = t
	}

	return g, nil
}

// Stage returns the stage by id.
func (g *StageGraph) Stage(id uuid.UUID) (*models.Stage, bool) {
	s, ok := g.stages[id]
	return s, ok
}

// Type returns the stage type by id.
func (g *StageGraph) Type(id uuid.UUID) (*models.StageType, bool) {
	t, ok := g.types[id]
	return t, ok
}

// TypeByValue returns the stage type by its value.
func (g *StageGraph) TypeByValue(value string) (*models.StageType, bool) {
	t, ok := g.typesByValue[value]
	return t, ok
}

// StagesOfType returns the type's stages ordered by sort order.
func (g *StageGraph) StagesOfType(typeValue string) []*models.Stage {
	t, ok := g.typesByValue[typeValue]
	if !ok {
		return nil
	}
	return g.stagesByType[t.ID]
}

// InitialStage returns the lowest-sort-order stage of the type.
func (g *StageGraph) InitialStage(typeValue string) (*models.Stage, error) {
	stages := g.StagesOfType(typeValue)
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages for type %q", typeValue)
	}
	return stages[0], nil
}

// StageOfTypeByValue finds a stage of the given type by its value.
func (g *StageGraph) StageOfTypeByValue(typeValue, stageValue string) (*models.Stage, bool) {
	for _, s := range g.StagesOfType(typeValue) {
		if s.Value == stageValue {
			return s, true
		}
	}
	return nil, false
}

// NextStage returns the stage's next-stage hint, if any.
func (g *StageGraph) NextStage(stageID uuid.UUID) (*models.Stage, bool) {
	s, ok := g.stages[stageID]
	if !ok || s.NextStageID == nil {
		return nil, false
	}
	next, ok := g.stages[*s.NextStageID]
	return next, ok
}

// Transition looks up the legal-movement row for (from stage, action).
func (g *StageGraph) Transition(fromStageID uuid.UUID, action models.StageAction) (*models.StageTransition, bool) {
	t, ok := g.transitions[transitionKey{from: fromStageID, action: action}]
	return t, ok
}

// PermissionsForStage returns the permission rows covering the stage.
func (g *StageGraph) PermissionsForStage(stage *models.Stage) []*models.StagePermission {
	var covering []*models.StagePermission
	for _, p := range g.permissions[stage.TypeID] {
		if p.Covers(stage) {
			covering = append(covering, p)
		}
	}
	return covering
}
