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

// SectionRepository manages per-project form definitions: sections,
// fields, select options and trigger edges.
type SectionRepository interface {
	GetSectionType(ctx context.Context, name string) (*models.SectionType, error)
	CreateSection(ctx context.Context, section *models.Section) error
	GetSection(ctx context.Context, id uuid.UUID) (*models.Section, error)
	ListSectionsByType(ctx context.Context, projectID uuid.UUID, typeName string) ([]*models.Section, error)
	CreateField(ctx context.Context, field *models.Field) error
	// SetTrigger wires a field's trigger edge after both fields exist.
	SetTrigger(ctx context.Context, fieldID uuid.UUID, cause string, targetID uuid.UUID) error
	GetField(ctx context.Context, id uuid.UUID) (*models.Field, error)
	// ListFieldsBySection returns the section's fields with their options,
	// ordered by sort order.
	ListFieldsBySection(ctx context.Context, sectionID uuid.UUID) ([]*models.Field, error)
	// ListFieldsByType returns every field across all sections of the
	// project's form definition for the given section type name.
	ListFieldsByType(ctx context.Context, projectID uuid.UUID, typeName string) ([]*models.Field, error)
}

type sectionRepository struct {
	db *database.DB
}

// NewSectionRepository creates a new section repository.
func NewSectionRepository(db *database.DB) SectionRepository {
	return &sectionRepository{db: db}
}

var _ SectionRepository = (*sectionRepository)(nil)

func (r *sectionRepository) GetSectionType(ctx context.Context, name string) (*models.SectionType, error) {
	q := database.QuerierFrom(ctx, r.db)

	var t models.SectionType
	err := q.QueryRow(ctx, `
		SELECT id, name FROM section_types WHERE name = $1`, name,
	).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get section type: %w", err)
	}
	return &t, nil
}

func (r *sectionRepository) CreateSection(ctx context.Context, section *models.Section) error {
	q := database.QuerierFrom(ctx, r.db)

	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO sections (id, project_id, section_type_id, name, sort_order)
		VALUES ($1, $2, $3, $4, $5)`,
		section.ID, section.ProjectID, section.SectionTypeID, section.Name, section.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to create section: %w", err)
	}
	return nil
}

func (r *sectionRepository) GetSection(ctx context.Context, id uuid.UUID) (*models.Section, error) {
	q := database.QuerierFrom(ctx, r.db)

	var s models.Section
	err := q.QueryRow(ctx, `
		SELECT id, project_id, section_type_id, name, sort_order
		FROM sections WHERE id = $1`, id,
	).Scan(&s.ID, &s.ProjectID, &s.SectionTypeID, &s.Name, &s.SortOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return &s, nil
}

func (r *sectionRepository) ListSectionsByType(ctx context.Context, projectID uuid.UUID, typeName string) ([]*models.Section, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT s.id, s.project_id, s.section_type_id, s.name, s.sort_order
		FROM sections s
		JOIN section_types st ON st.id = s.section_type_id
		WHERE s.project_id = $1 AND st.name = $2
		ORDER BY s.sort_order`, projectID, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []*models.Section
	for rows.Next() {
		var s models.Section
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.SectionTypeID, &s.Name, &s.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, &s)
	}
	return sections, rows.Err()
}

func (r *sectionRepository) CreateField(ctx context.Context, field *models.Field) error {
	q := database.QuerierFrom(ctx, r.db)

	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO fields
			(id, section_id, name, input_type, sort_order, mandatory, hidden,
			 default_response, trigger_cause, trigger_target_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		field.ID, field.SectionID, field.Name, field.InputType, field.SortOrder,
		field.Mandatory, field.Hidden, field.DefaultResponse,
		field.TriggerCause, field.TriggerTargetID)
	if err != nil {
		return fmt.Errorf("failed to create field: %w", err)
	}

	for i := range field.Options {
		opt := &field.Options[i]
		if opt.ID == uuid.Nil {
			opt.ID = uuid.New()
		}
		opt.FieldID = field.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO select_field_options (id, field_id, name)
			VALUES ($1, $2, $3)`, opt.ID, opt.FieldID, opt.Name); err != nil {
			return fmt.Errorf("failed to create field option: %w", err)
		}
	}
	return nil
}

func (r *sectionRepository) SetTrigger(ctx context.Context, fieldID uuid.UUID, cause string, targetID uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE fields SET trigger_cause = $2, trigger_target_id = $3
		WHERE id = $1`, fieldID, cause, targetID)
	if err != nil {
		return fmt.Errorf("failed to set field trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sectionRepository) GetField(ctx context.Context, id uuid.UUID) (*models.Field, error) {
	q := database.QuerierFrom(ctx, r.db)

	row := q.QueryRow(ctx, `
		SELECT id, section_id, name, input_type, sort_order, mandatory, hidden,
		       default_response, trigger_cause, trigger_target_id
		FROM fields WHERE id = $1`, id)

	f, err := scanField(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadOptions(ctx, []*models.Field{f}); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *sectionRepository) ListFieldsBySection(ctx context.Context, sectionID uuid.UUID) ([]*models.Field, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, section_id, name, input_type, sort_order, mandatory, hidden,
		       default_response, trigger_cause, trigger_target_id
		FROM fields
		WHERE section_id = $1
		ORDER BY sort_order`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	fields, err := scanFields(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadOptions(ctx, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *sectionRepository) ListFieldsByType(ctx context.Context, projectID uuid.UUID, typeName string) ([]*models.Field, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT f.id, f.section_id, f.name, f.input_type, f.sort_order, f.mandatory,
		       f.hidden, f.default_response, f.trigger_cause, f.trigger_target_id
		FROM fields f
		JOIN sections s ON s.id = f.section_id
		JOIN section_types st ON st.id = s.section_type_id
		WHERE s.project_id = $1 AND st.name = $2
		ORDER BY s.sort_order, f.sort_order`, projectID, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields by type: %w", err)
	}
	fields, err := scanFields(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadOptions(ctx, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// loadOptions attaches select options to the given fields in one query.
func (r *sectionRepository) loadOptions(ctx context.Context, fields []*models.Field) error {
	var selectIDs []uuid.UUID
	byID := make(map[uuid.UUID]*models.Field)
	for _, f := range fields {
		if f.InputType.IsSelect() {
			selectIDs = append(selectIDs, f.ID)
			byID[f.ID] = f
		}
	}
	if len(selectIDs) == 0 {
		return nil
	}

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, `
		SELECT id, field_id, name
		FROM select_field_options
		WHERE field_id = ANY($1)
		ORDER BY name`, selectIDs)
	if err != nil {
		return fmt.Errorf("failed to list field options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var opt models.SelectFieldOption
		if err := rows.Scan(&opt.ID, &opt.FieldID, &opt.Name); err != nil {
			return fmt.Errorf("failed to scan field option: %w", err)
		}
		if f, ok := byID[opt.FieldID]; ok {
			f.Options = append(f.Options, opt)
		}
	}
	return rows.Err()
}

func scanField(row pgx.Row) (*models.Field, error) {
	var f models.Field
	if err := row.Scan(&f.ID, &f.SectionID, &f.Name, &f.InputType, &f.SortOrder,
		&f.Mandatory, &f.Hidden, &f.DefaultResponse, &f.TriggerCause, &f.TriggerTargetID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan field: %w", err)
	}
	return &f, nil
}

func scanFields(rows pgx.Rows) ([]*models.Field, error) {
	defer rows.Close()

	var fields []*models.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}
