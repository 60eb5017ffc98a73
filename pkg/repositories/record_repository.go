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

// RecordRepository manages workflow records. Stage changes go through
// UpdateStage, a compare-and-swap on the current stage: the update only
// lands when the stored stage still equals the expected one.
type RecordRepository interface {
	Create(ctx context.Context, record *models.Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, kind models.RecordKind) ([]*models.Record, error)
	ListByOwner(ctx context.Context, projectID uuid.UUID, ownerID string) ([]*models.Record, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID, kind models.RecordKind) ([]*models.Record, error)
	// UpdateStage moves the record from expectedStageID to toStageID.
	// Returns false without error when the record's stage no longer
	// matches expectedStageID (the swap lost a race).
	UpdateStage(ctx context.Context, recordID, expectedStageID, toStageID uuid.UUID) (bool, error)
	SetFeedbackRequested(ctx context.Context, recordID uuid.UUID, requested bool) error
	SetNoteID(ctx context.Context, recordID, noteID uuid.UUID) error
}

type recordRepository struct {
	db *database.DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *database.DB) RecordRepository {
	return &recordRepository{db: db}
}

var _ RecordRepository = (*recordRepository)(nil)

const recordColumns = `
	id, kind, project_id, project_group_id, owner_id, title, stage_id,
	note_id, feedback_requested, deadline, created_at, updated_at`

func (r *recordRepository) Create(ctx context.Context, record *models.Record) error {
	q := database.QuerierFrom(ctx, r.db)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO records
			(id, kind, project_id, project_group_id, owner_id, title, stage_id,
			 note_id, feedback_requested, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		record.ID, record.Kind, record.ProjectID, record.ProjectGroupID,
		record.OwnerID, record.Title, record.StageID, record.NoteID,
		record.FeedbackRequested, record.Deadline,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (r *recordRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	q := database.QuerierFrom(ctx, r.db)

	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *recordRepository) ListByProject(ctx context.Context, projectID uuid.UUID, kind models.RecordKind) ([]*models.Record, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE project_id = $1 AND kind = $2
		ORDER BY created_at`, projectID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return scanRecords(rows)
}

func (r *recordRepository) ListByOwner(ctx context.Context, projectID uuid.UUID, ownerID string) ([]*models.Record, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE project_id = $1 AND owner_id = $2
		ORDER BY created_at`, projectID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by owner: %w", err)
	}
	return scanRecords(rows)
}

func (r *recordRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, kind models.RecordKind) ([]*models.Record, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE project_group_id = $1 AND kind = $2
		ORDER BY created_at`, groupID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list records by group: %w", err)
	}
	return scanRecords(rows)
}

func (r *recordRepository) UpdateStage(ctx context.Context, recordID, expectedStageID, toStageID uuid.UUID) (bool, error) {
	q := database.QuerierFrom(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE records
		SET stage_id = $3, updated_at = now()
		WHERE id = $1 AND stage_id = $2`,
		recordID, expectedStageID, toStageID)
	if err != nil {
		return false, fmt.Errorf("failed to update record stage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *recordRepository) SetFeedbackRequested(ctx context.Context, recordID uuid.UUID, requested bool) error {
	q := database.QuerierFrom(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE records SET feedback_requested = $2, updated_at = now()
		WHERE id = $1`, recordID, requested)
	if err != nil {
		return fmt.Errorf("failed to set feedback flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *recordRepository) SetNoteID(ctx context.Context, recordID, noteID uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db)

	tag, err := q.Exec(ctx, `
		UPDATE records SET note_id = $2, updated_at = now()
		WHERE id = $1`, recordID, noteID)
	if err != nil {
		return fmt.Errorf("failed to set note link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*models.Record, error) {
	var rec models.Record
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.ProjectID, &rec.ProjectGroupID,
		&rec.OwnerID, &rec.Title, &rec.StageID, &rec.NoteID,
		&rec.FeedbackRequested, &rec.Deadline, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*models.Record, error) {
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
