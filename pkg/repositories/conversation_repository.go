package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/database"
	"github.com/labbook-edu/labbook-engine/pkg/models"
)

// ConversationRepository manages comment threads on field responses.
// At most one conversation exists per field response.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetByFieldResponse(ctx context.Context, fieldResponseID uuid.UUID) (*models.Conversation, error)
	// ListByRecord returns every conversation attached to the record's
	// field responses, with comments.
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*models.Conversation, error)
	AddComment(ctx context.Context, comment *models.Comment) error
	GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error)
	MarkCommentRead(ctx context.Context, commentID uuid.UUID) error
	SetResolved(ctx context.Context, conversationID uuid.UUID, resolved bool) error
}

type conversationRepository struct {
	db *database.DB
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db *database.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

var _ ConversationRepository = (*conversationRepository)(nil)

func (r *conversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	q := database.QuerierFrom(ctx, r.db)

	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO conversations (id, field_response_id, owner_id, resolved)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		conversation.ID, conversation.FieldResponseID,
		conversation.OwnerID, conversation.Resolved,
	).Scan(&conversation.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	q := database.QuerierFrom(ctx, r.db)

	row := q.QueryRow(ctx, `
		SELECT id, field_response_id, owner_id, resolved, created_at
		FROM conversations WHERE id = $1`, id)
	return r.scanWithComments(ctx, row)
}

func (r *conversationRepository) GetByFieldResponse(ctx context.Context, fieldResponseID uuid.UUID) (*models.Conversation, error) {
	q := database.QuerierFrom(ctx, r.db)

	row := q.QueryRow(ctx, `
		SELECT id, field_response_id, owner_id, resolved, created_at
		FROM conversations WHERE field_response_id = $1`, fieldResponseID)
	return r.scanWithComments(ctx, row)
}

func (r *conversationRepository) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*models.Conversation, error) {
	q := database.QuerierFrom(ctx, r.db)

	rows, err := q.Query(ctx, `
		SELECT c.id, c.field_response_id, c.owner_id, c.resolved, c.created_at
		FROM conversations c
		JOIN field_responses fr ON fr.id = c.field_response_id
		WHERE fr.record_id = $1
		ORDER BY c.created_at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	byID := make(map[uuid.UUID]*models.Conversation)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.FieldResponseID, &c.OwnerID, &c.Resolved, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, &c)
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return conversations, nil
	}

	ids := make([]uuid.UUID, 0, len(conversations))
	for id := range byID {
		ids = append(ids, id)
	}
	commentRows, err := q.Query(ctx, `
		SELECT id, conversation_id, owner_id, value, comment_date, read
		FROM comments
		WHERE conversation_id = ANY($1)
		ORDER BY comment_date`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer commentRows.Close()

	for commentRows.Next() {
		var cm models.Comment
		if err := commentRows.Scan(&cm.ID, &cm.ConversationID, &cm.OwnerID, &cm.Value, &cm.CommentDate, &cm.Read); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		if c, ok := byID[cm.ConversationID]; ok {
			c.Comments = append(c.Comments, cm)
		}
	}
	return conversations, commentRows.Err()
}

func (r *conversationRepository) AddComment(ctx context.Context, comment *models.Comment) error {
	q := database.QuerierFrom(ctx, r.db)

	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	if comment.CommentDate.IsZero() {
		comment.CommentDate = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO comments (id, conversation_id, owner_id, value, comment_date, read)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		comment.ID, comment.ConversationID, comment.OwnerID,
		comment.Value, comment.CommentDate, comment.Read)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	q := database.QuerierFrom(ctx, r.db)

	var cm models.Comment
	err := q.QueryRow(ctx, `
		SELECT id, conversation_id, owner_id, value, comment_date, read
		FROM comments WHERE id = $1`, id,
	).Scan(&cm.ID, &cm.ConversationID, &cm.OwnerID, &cm.Value, &cm.CommentDate, &cm.Read)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get comment: %w", err)
	}
	return &cm, nil
}

func (r *conversationRepository) MarkCommentRead(ctx context.Context, commentID uuid.UUID) error {
	q := database.QuerierFrom(ctx, r.db)

	tag, err := q.Exec(ctx, `UPDATE comments SET read = TRUE WHERE id = $1`, commentID)
	if err != nil {
		return fmt.Errorf("failed to mark comment read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *conversationRepository) SetResolved(ctx context.Context, conversationID uuid.UUID, resolved bool) error {
	q := database.QuerierFrom(ctx, r.db)

	tag, err := q.Exec(ctx, `UPDATE conversations SET resolved = $2 WHERE id = $1`, conversationID, resolved)
	if err != nil {
		return fmt.Errorf("failed to set conversation resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// scanWithComments scans one conversation row and loads its comments.
func (r *conversationRepository) scanWithComments(ctx context.Context, row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	if err := row.Scan(&c.ID, &c.FieldResponseID, &c.OwnerID, &c.Resolved, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, `
		SELECT id, conversation_id, owner_id, value, comment_date, read
		FROM comments
		WHERE conversation_id = $1
		ORDER BY comment_date`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cm models.Comment
		if err := rows.Scan(&cm.ID, &cm.ConversationID, &cm.OwnerID, &cm.Value, &cm.CommentDate, &cm.Read); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Comments = append(c.Comments, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}
