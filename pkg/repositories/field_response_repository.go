package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/database"
	"github.com/labbook-edu/labbook-engine/pkg/models"
)

// FieldResponseRepository manages response rows and their append-only
// value history. Values are never updated or deleted; every edit appends
// a new FieldResponseValue.
type FieldResponseRepository interface {
	Create(ctx context.Context, response *models.FieldResponse) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FieldResponse, error)
	GetByRecordAndField(ctx context.Context, recordID, fieldID uuid.UUID) (*models.FieldResponse, error)
	// ListByRecord returns all responses of the record with their full
	// value history, ordered by response date ascending.
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*models.FieldResponse, error)
	AppendValue(ctx context.Context, responseID uuid.UUID, value json.RawMessage, at time.Time) (*models.FieldResponseValue, error)
}

type fieldResponseRepository struct {
	db *database.DB
}

// NewFieldResponseRepository creates a new field response repository.
func NewFieldResponseRepository(db *database.DB) FieldResponseRepository {
	return &fieldResponseRepository{db: db}
}

var _ FieldResponseRepository = (*fieldResponseRepository)(nil)

func (r *fieldResponseRepository) Create(ctx context.Context, response *models.FieldResponse) error {
	q := database.QuerierFrom(ctx, r.db)

	if response.ID == uuid.Nil {
		response.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO field_responses (id, record_id, field_id)
		VALUES ($1, $2, $3)`,
		response.ID, response.RecordID, response.FieldID)
	if err != nil {
		return fmt.Errorf("failed to create field response: %w", err)
	}

	for i := range response.Values {
		v := &response.Values[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.FieldResponseID = response.ID
		if v.ResponseDate.IsZero() {
			v.ResponseDate = time.Now().UTC()
		}
		if _, err := q.Exec(ctx, `
			INSERT INTO field_response_values (id, field_response_id, value, response_date)
			VALUES ($1, $2, $3, $4)`,
			v.ID, v.FieldResponseID, v.Value, v.ResponseDate); err != nil {
			return fmt.Errorf("failed to create field response value: %w", err)
		}
	}
	return nil
}

func (r *fieldResponseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FieldResponse, error) {
	q := database.QuerierFrom(ctx, r.db)

	var fr models.FieldResponse
	err := q.QueryRow(ctx, `
		SELECT id, record_id, field_id FROM field_responses WHERE id = $1`, id,
	).Scan(&fr.ID, &fr.RecordID, &fr.FieldID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get field response: %w", err)
	}
	if err := r.loadValues(ctx, []*models.FieldResponse{&fr}); err != nil {
		return nil, err
	}
	return &fr, nil
}

func (r *fieldResponseRepository) GetByRecordAndField(ctx context.Context, recordID, fieldID uuid.UUID) (*models.FieldResponse, error) {
	q := database.QuerierFrom(ctx, r.db)

	var fr models.FieldResponse
	err := q.QueryRow(ctx, `
		SELECT id, record_id, field_id
		FROM field_responses
		WHERE record_id = $1 AND field_id = $2`, recordID, fieldID,
	).Scan(&fr.ID, &fr.RecordID, &fr.FieldID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get field response: %w", err)
	}
	if err := r.loadValues(ctx, []*models.FieldResponse{&fr}); err != nil {
		return nil, err
	}
	return &fr, nil
}

func (r *fieldResponseRepository) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*models.FieldResponse, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT id, record_id, field_id
		FROM field_responses
		WHERE record_id = $1`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field responses: %w", err)
	}
	defer rows.Close()

	var responses []*models.FieldResponse
	for rows.Next() {
		var fr models.FieldResponse
		if err := rows.Scan(&fr.ID, &fr.RecordID, &fr.FieldID); err != nil {
			return nil, fmt.Errorf("failed to scan field response: %w", err)
		}
		responses = append(responses, &fr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadValues(ctx, responses); err != nil {
		return nil, err
	}
	return responses, nil
}

func (r *fieldResponseRepository) AppendValue(ctx context.Context, responseID uuid.UUID, value json.RawMessage, at time.Time) (*models.FieldResponseValue, error) {
	q := database.QuerierFrom(ctx, r.db)

	v := &models.FieldResponseValue{
		ID:              uuid.New(),
		FieldResponseID: responseID,
		Value:           value,
		ResponseDate:    at,
	}
	if v.ResponseDate.IsZero() {
		v.ResponseDate = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO field_response_values (id, field_response_id, value, response_date)
		VALUES ($1, $2, $3, $4)`,
		v.ID, v.FieldResponseID, v.Value, v.ResponseDate)
	if err != nil {
		return nil, fmt.Errorf("failed to append field response value: %w", err)
	}
	return v, nil
}

// loadValues attaches the full value history to the given responses.
func (r *fieldResponseRepository) loadValues(ctx context.Context, responses []*models.FieldResponse) error {
	if len(responses) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(responses))
	byID := make(map[uuid.UUID]*models.FieldResponse, len(responses))
	for i, fr := range responses {
		ids[i] = fr.ID
		byID[fr.ID] = fr
	}

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, `
		SELECT id, field_response_id, value, response_date
		FROM field_response_values
		WHERE field_response_id = ANY($1)
		ORDER BY response_date, seq`, ids)
	if err != nil {
		return fmt.Errorf("failed to list field response values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.FieldResponseValue
		if err := rows.Scan(&v.ID, &v.FieldResponseID, &v.Value, &v.ResponseDate); err != nil {
			return fmt.Errorf("failed to scan field response value: %w", err)
		}
		if fr, ok := byID[v.FieldResponseID]; ok {
			fr.Values = append(fr.Values, v)
		}
	}
	return rows.Err()
}
