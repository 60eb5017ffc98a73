package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/database"
	"github.com/labbook-edu/labbook-engine/pkg/models"
)

// StageRepository loads the authored stage data: types, stages,
// permission ranges and the transition tables. The data is seeded by
// migrations and read once at startup to build the stage graph.
type StageRepository interface {
	ListTypes(ctx context.Context) ([]*models.StageType, error)
	ListStages(ctx context.Context) ([]*models.Stage, error)
	ListPermissions(ctx context.Context) ([]*models.StagePermission, error)
	ListTransitions(ctx context.Context) ([]*models.StageTransition, error)
	GetStage(ctx context.Context, id uuid.UUID) (*models.Stage, error)
}

type stageRepository struct {
	db *database.DB
}

// NewStageRepository creates a new stage repository.
func NewStageRepository(db *database.DB) StageRepository {
	return &stageRepository{db: db}
}

var _ StageRepository = (*stageRepository)(nil)

func (r *stageRepository) ListTypes(ctx context.Context) ([]*models.StageType, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `SELECT id, value FROM stage_types ORDER BY value`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage types: %w", err)
	}
	defer rows.Close()

	var types []*models.StageType
	for rows.Next() {
		var t models.StageType
		if err := rows.Scan(&t.ID, &t.Value); err != nil {
			return nil, fmt.Errorf("failed to scan stage type: %w", err)
		}
		types = append(types, &t)
	}
	return types, rows.Err()
}

func (r *stageRepository) ListStages(ctx context.Context) ([]*models.Stage, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, type_id, value, display_name, sort_order, next_stage_id
		FROM stages
		ORDER BY type_id, sort_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *stageRepository) ListPermissions(ctx context.Context) ([]*models.StagePermission, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, type_id, min_sort_order, max_sort_order, key
		FROM stage_permissions
		ORDER BY type_id, key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage permissions: %w", err)
	}
	defer rows.Close()

	var perms []*models.StagePermission
	for rows.Next() {
		var p models.StagePermission
		if err := rows.Scan(&p.ID, &p.TypeID, &p.MinSortOrder, &p.MaxSortOrder, &p.Key); err != nil {
			return nil, fmt.Errorf("failed to scan stage permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

func (r *stageRepository) ListTransitions(ctx context.Context) ([]*models.StageTransition, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, type_id, from_stage_id, action, to_stage_id, required_key
		FROM stage_transitions
		ORDER BY type_id, action`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*models.StageTransition
	for rows.Next() {
		var t models.StageTransition
		if err := rows.Scan(&t.ID, &t.TypeID, &t.FromStageID, &t.Action, &t.ToStageID, &t.RequiredKey); err != nil {
			return nil, fmt.Errorf("failed to scan stage transition: %w", err)
		}
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

func (r *stageRepository) GetStage(ctx context.Context, id uuid.UUID) (*models.Stage, error) {
	q := database.QuerierFrom(ctx, r.db)

	row := q.QueryRow(ctx, `
		SELECT id, type_id, value, display_name, sort_order, next_stage_id
		FROM stages
		WHERE id = $1`, id)

	s, err := scanStage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// scanStage scans a stage from a row or rows cursor.
func scanStage(row pgx.Row) (*models.Stage, error) {
	var s models.Stage
	if err := row.Scan(&s.ID, &s.TypeID, &s.Value, &s.DisplayName, &s.SortOrder, &s.NextStageID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}
	return &s, nil
}
