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

// ProjectRepository manages projects, project groups, group membership
// and the project instructor roster.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	CreateGroup(ctx context.Context, group *models.ProjectGroup) error
	GetGroup(ctx context.Context, id uuid.UUID) (*models.ProjectGroup, error)
	ListGroupsByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectGroup, error)
	AddMember(ctx context.Context, groupID uuid.UUID, userID string) error
	IsMember(ctx context.Context, groupID uuid.UUID, userID string) (bool, error)
	AddInstructor(ctx context.Context, projectID uuid.UUID, userID string) error
	IsInstructor(ctx context.Context, projectID uuid.UUID, userID string) (bool, error)
}

type projectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *database.DB) ProjectRepository {
	return &projectRepository{db: db}
}

var _ ProjectRepository = (*projectRepository)(nil)

func (r *projectRepository) CreateProject(ctx context.Context, project *models.Project) error {
	q := database.QuerierFrom(ctx, r.db)

	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO projects (id, name)
		VALUES ($1, $2)
		RETURNING created_at`,
		project.ID, project.Name,
	).Scan(&project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *projectRepository) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	q := database.QuerierFrom(ctx, r.db)

	var p models.Project
	err := q.QueryRow(ctx, `
		SELECT id, name, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (r *projectRepository) CreateGroup(ctx context.Context, group *models.ProjectGroup) error {
	q := database.QuerierFrom(ctx, r.db)

	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO project_groups (id, project_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		group.ID, group.ProjectID, group.Name,
	).Scan(&group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project group: %w", err)
	}
	return nil
}

func (r *projectRepository) GetGroup(ctx context.Context, id uuid.UUID) (*models.ProjectGroup, error) {
	q := database.QuerierFrom(ctx, r.db)

	var g models.ProjectGroup
	err := q.QueryRow(ctx, `
		SELECT id, project_id, name, created_at FROM project_groups WHERE id = $1`, id,
	).Scan(&g.ID, &g.ProjectID, &g.Name, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project group: %w", err)
	}
	return &g, nil
}

func (r *projectRepository) ListGroupsByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectGroup, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, project_id, name, created_at
		FROM project_groups
		WHERE project_id = $1
		ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.ProjectGroup
	for rows.Next() {
		var g models.ProjectGroup
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project group: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (r *projectRepository) AddMember(ctx context.Context, groupID uuid.UUID, userID string) error {
	q := database.QuerierFrom(ctx, r.db)

	_, err := q.Exec(ctx, `
		INSERT INTO project_group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

func (r *projectRepository) IsMember(ctx context.Context, groupID uuid.UUID, userID string) (bool, error) {
	q := database.QuerierFrom(ctx, r.db)

	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_group_members
			WHERE group_id = $1 AND user_id = $2
		)`, groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return exists, nil
}

func (r *projectRepository) AddInstructor(ctx context.Context, projectID uuid.UUID, userID string) error {
	q := database.QuerierFrom(ctx, r.db)

	_, err := q.Exec(ctx, `
		INSERT INTO project_instructors (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, projectID, userID)
	if err != nil {
		return fmt.Errorf("failed to add project instructor: %w", err)
	}
	return nil
}

func (r *projectRepository) IsInstructor(ctx context.Context, projectID uuid.UUID, userID string) (bool, error) {
	q := database.QuerierFrom(ctx, r.db)

	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_instructors
			WHERE project_id = $1 AND user_id = $2
		)`, projectID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project instructor: %w", err)
	}
	return exists, nil
}
