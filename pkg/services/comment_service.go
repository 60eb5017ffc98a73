package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// CommentService manages the feedback threads instructors attach to
// field responses during review.
type CommentService interface {
	// AddComment appends an instructor comment to the response's
	// conversation, opening one if none exists yet. Adding a comment
	// un-resolves the conversation and snapshots a fresh value onto the
	// response's history so the student edits against the commented
	// version.
	AddComment(ctx context.Context, fieldResponseID uuid.UUID, caller Caller, value string) (*models.Conversation, error)
	// MarkRead marks one comment as read. Idempotent.
	MarkRead(ctx context.Context, commentID uuid.UUID, caller Caller) error
	// SetResolved resolves or reopens a conversation. Resolution is the
	// per-field approval that feeds the record's approval gate.
	SetResolved(ctx context.Context, conversationID uuid.UUID, caller Caller, resolved bool) (*models.Conversation, error)
}

// CommentServiceDeps bundles the collaborators for NewCommentService.
type CommentServiceDeps struct {
	Tx            TxRunner
	Records       repositories.RecordRepository
	Responses     repositories.FieldResponseRepository
	Conversations repositories.ConversationRepository
	Projects      repositories.ProjectRepository
	Graph         *StageGraph
	Permissions   *PermissionService
	Logger        *zap.Logger
}

type commentService struct {
	tx            TxRunner
	records       repositories.RecordRepository
	responses     repositories.FieldResponseRepository
	conversations repositories.ConversationRepository
	graph         *StageGraph
	permissions   *PermissionService
	access        accessResolver
	logger        *zap.Logger
}

// NewCommentService creates a new comment service.
func NewCommentService(deps CommentServiceDeps) CommentService {
	return &commentService{
		tx:            deps.Tx,
		records:       deps.Records,
		responses:     deps.Responses,
		conversations: deps.Conversations,
		graph:         deps.Graph,
		permissions:   deps.Permissions,
		access:        accessResolver{projects: deps.Projects},
		logger:        deps.Logger.Named("comment"),
	}
}

var _ CommentService = (*commentService)(nil)

func (s *commentService) AddComment(ctx context.Context, fieldResponseID uuid.UUID, caller Caller, value string) (*models.Conversation, error) {
	response, err := s.responses.GetByID(ctx, fieldResponseID)
	if err != nil {
		return nil, err
	}
	record, err := s.records.GetByID(ctx, response.RecordID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCommentKey(ctx, record, caller); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var conversation *models.Conversation
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		conversation, err = s.conversations.GetByFieldResponse(ctx, fieldResponseID)
		if errors.Is(err, apperrors.ErrNotFound) {
			conversation = &models.Conversation{
				FieldResponseID: fieldResponseID,
				OwnerID:         caller.UserID,
			}
			if err := s.conversations.Create(ctx, conversation); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		comment := &models.Comment{
			ConversationID: conversation.ID,
			OwnerID:        caller.UserID,
			Value:          value,
			CommentDate:    now,
		}
		if err := s.conversations.AddComment(ctx, comment); err != nil {
			return err
		}
		conversation.Comments = append(conversation.Comments, *comment)

		if conversation.Resolved {
			if err := s.conversations.SetResolved(ctx, conversation.ID, false); err != nil {
				return err
			}
			conversation.Resolved = false
		}

		// Snapshot the current value so the student's follow-up edits
		// append after the commented version.
		if current := response.CurrentValue(); len(current) > 0 {
			if _, err := s.responses.AppendValue(ctx, response.ID, current, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Added comment",
		zap.String("field_response_id", fieldResponseID.String()),
		zap.String("conversation_id", conversation.ID.String()))
	return conversation, nil
}

func (s *commentService) MarkRead(ctx context.Context, commentID uuid.UUID, caller Caller) error {
	comment, err := s.conversations.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.Read {
		return nil
	}
	conversation, err := s.conversations.GetByID(ctx, comment.ConversationID)
	if err != nil {
		return err
	}
	response, err := s.responses.GetByID(ctx, conversation.FieldResponseID)
	if err != nil {
		return err
	}
	record, err := s.records.GetByID(ctx, response.RecordID)
	if err != nil {
		return err
	}
	cc, err := s.access.contextFor(ctx, record, caller)
	if err != nil {
		return err
	}
	if !cc.IsOwnerOrMember() && !cc.IsInstructor {
		return apperrors.ErrForbidden
	}
	return s.conversations.MarkCommentRead(ctx, commentID)
}

func (s *commentService) SetResolved(ctx context.Context, conversationID uuid.UUID, caller Caller, resolved bool) (*models.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	response, err := s.responses.GetByID(ctx, conversation.FieldResponseID)
	if err != nil {
		return nil, err
	}
	record, err := s.records.GetByID(ctx, response.RecordID)
	if err != nil {
		return nil, err
	}

	// Resolution is an instructor act at any stage they can still view.
	cc, err := s.access.contextFor(ctx, record, caller)
	if err != nil {
		return nil, err
	}
	stage, ok := s.graph.Stage(record.StageID)
	if !ok {
		return nil, fmt.Errorf("record %s has unknown stage %s", record.ID, record.StageID)
	}
	perms := s.permissions.Resolve(stage, cc)
	if !perms.Has(models.InstructorCanView) && !perms.Has(models.InstructorCanComment) {
		return nil, apperrors.ErrForbidden
	}

	if conversation.Resolved != resolved {
		if err := s.conversations.SetResolved(ctx, conversationID, resolved); err != nil {
			return nil, err
		}
		conversation.Resolved = resolved
	}
	return conversation, nil
}

// requireCommentKey gates comment creation on InstructorCanComment at
// the record's current stage.
func (s *commentService) requireCommentKey(ctx context.Context, record *models.Record, caller Caller) error {
	cc, err := s.access.contextFor(ctx, record, caller)
	if err != nil {
		return err
	}
	stage, ok := s.graph.Stage(record.StageID)
	if !ok {
		return fmt.Errorf("record %s has unknown stage %s", record.ID, record.StageID)
	}
	perms := s.permissions.Resolve(stage, cc)
	if !perms.Has(models.InstructorCanComment) {
		return apperrors.ErrForbidden
	}
	return nil
}
