package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// reactionSchemeFieldName links a plan's reaction scheme to its note's:
// on plan approval, the latest plan value is copied across.
const reactionSchemeFieldName = "Reaction Scheme"

// CreateRecordRequest carries the inputs for record creation.
type CreateRecordRequest struct {
	Kind           models.RecordKind `json:"kind"`
	ProjectID      uuid.UUID         `json:"project_id"`
	ProjectGroupID *uuid.UUID        `json:"project_group_id,omitempty"`
	Title          string            `json:"title"`
	Deadline       *time.Time        `json:"deadline,omitempty"`
}

// AdvanceStageRequest carries a caller-requested stage movement. The
// expected stage makes the advance a compare-and-swap: the movement only
// lands when the record is still where the caller last saw it.
type AdvanceStageRequest struct {
	Action          models.StageAction `json:"action"`
	ExpectedStageID uuid.UUID          `json:"expected_stage_id"`
}

// SectionSummary is the per-section digest shown in record overviews.
type SectionSummary struct {
	SectionID      uuid.UUID `json:"section_id"`
	Name           string    `json:"name"`
	SortOrder      int       `json:"sort_order"`
	Approved       bool      `json:"approved"`
	UnreadComments int       `json:"unread_comments"`
}

// RecordSummary is a record with its stage, permissions and sections.
type RecordSummary struct {
	Record      *models.Record         `json:"record"`
	Stage       *models.Stage          `json:"stage"`
	Permissions []models.PermissionKey `json:"permissions"`
	Sections    []SectionSummary       `json:"sections"`
	// AllSectionsApproved mirrors the approval gate used for review
	// decisions: every visible mandatory response has a resolved or
	// absent conversation.
	AllSectionsApproved bool `json:"all_sections_approved"`
}

// RecordService orchestrates records through their workflows.
type RecordService interface {
	Create(ctx context.Context, caller Caller, req CreateRecordRequest) (*models.Record, error)
	Get(ctx context.Context, recordID uuid.UUID, caller Caller) (*models.Record, error)
	List(ctx context.Context, projectID uuid.UUID, kind models.RecordKind, caller Caller) ([]*models.Record, error)
	// AdvanceStage applies the action to the record. Errors are checked
	// in a fixed order: stale expectation (conflict), then authority
	// (forbidden), then table lookup (invalid transition).
	AdvanceStage(ctx context.Context, recordID uuid.UUID, req AdvanceStageRequest, caller Caller) (*models.Stage, error)
	Summary(ctx context.Context, recordID uuid.UUID, caller Caller) (*RecordSummary, error)
	IsEverySectionApproved(ctx context.Context, recordID uuid.UUID) (bool, error)
	// LockGroupNotes locks every unlocked note of the group. Already
	// locked notes are skipped, so the operation is idempotent.
	LockGroupNotes(ctx context.Context, groupID uuid.UUID, caller Caller) (int, error)
}

// RecordServiceDeps bundles the collaborators for NewRecordService.
type RecordServiceDeps struct {
	Tx            TxRunner
	Records       repositories.RecordRepository
	Sections      repositories.SectionRepository
	Responses     repositories.FieldResponseRepository
	Conversations repositories.ConversationRepository
	Projects      repositories.ProjectRepository
	Graph         *StageGraph
	Permissions   *PermissionService
	Logger        *zap.Logger
}

type recordService struct {
	tx            TxRunner
	records       repositories.RecordRepository
	sections      repositories.SectionRepository
	responses     repositories.FieldResponseRepository
	conversations repositories.ConversationRepository
	projects      repositories.ProjectRepository
	graph         *StageGraph
	permissions   *PermissionService
	access        accessResolver
	logger        *zap.Logger
}

// NewRecordService creates a new record service.
func NewRecordService(deps RecordServiceDeps) RecordService {
	return &recordService{
		tx:            deps.Tx,
		records:       deps.Records,
		sections:      deps.Sections,
		responses:     deps.Responses,
		conversations: deps.Conversations,
		projects:      deps.Projects,
		graph:         deps.Graph,
		permissions:   deps.Permissions,
		access:        accessResolver{projects: deps.Projects},
		logger:        deps.Logger.Named("record"),
	}
}

var _ RecordService = (*recordService)(nil)

func (s *recordService) Create(ctx context.Context, caller Caller, req CreateRecordRequest) (*models.Record, error) {
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("unknown record kind %q", req.Kind)
	}
	if req.Kind == models.RecordKindNote {
		// Notes are created by their plan, never directly.
		return nil, apperrors.ErrForbidden
	}
	if _, err := s.projects.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	if !caller.Instructor {
		if req.ProjectGroupID == nil {
			return nil, apperrors.ErrForbidden
		}
		member, err := s.projects.IsMember(ctx, *req.ProjectGroupID, caller.UserID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, apperrors.ErrForbidden
		}
	}

	initial, err := s.graph.InitialStage(req.Kind.StageTypeValue())
	if err != nil {
		return nil, err
	}

	record := &models.Record{
		Kind:           req.Kind,
		ProjectID:      req.ProjectID,
		ProjectGroupID: req.ProjectGroupID,
		Title:          req.Title,
		StageID:        initial.ID,
		Deadline:       req.Deadline,
	}
	if !req.Kind.GroupScoped() {
		owner := caller.UserID
		record.OwnerID = &owner
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, record); err != nil {
			return err
		}
		if err := s.materializeDefaults(ctx, record); err != nil {
			return err
		}
		if record.Kind == models.RecordKindPlan {
			return s.createPairedNote(ctx, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created record",
		zap.String("record_id", record.ID.String()),
		zap.String("kind", string(record.Kind)))
	return record, nil
}

// createPairedNote creates the lab note that accompanies a plan. The
// note starts in its Draft stage and is activated when the plan is
// approved.
func (s *recordService) createPairedNote(ctx context.Context, plan *models.Record) error {
	initial, err := s.graph.InitialStage(models.RecordKindNote.StageTypeValue())
	if err != nil {
		return err
	}
	// The note shares the plan's deadline.
	note := &models.Record{
		Kind:           models.RecordKindNote,
		ProjectID:      plan.ProjectID,
		ProjectGroupID: plan.ProjectGroupID,
		OwnerID:        plan.OwnerID,
		Title:          plan.Title,
		StageID:        initial.ID,
		Deadline:       plan.Deadline,
	}
	if err := s.records.Create(ctx, note); err != nil {
		return err
	}
	if err := s.materializeDefaults(ctx, note); err != nil {
		return err
	}
	if err := s.records.SetNoteID(ctx, plan.ID, note.ID); err != nil {
		return err
	}
	plan.NoteID = &note.ID
	return nil
}

// materializeDefaults creates a response for every field of the record's
// form definition that carries a default, so new records render with
// their starting values. Static and hidden fields carry no response.
func (s *recordService) materializeDefaults(ctx context.Context, record *models.Record) error {
	fields, err := s.sections.ListFieldsByType(ctx, record.ProjectID, record.Kind.SectionTypeName())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, f := range fields {
		if f.InputType.IsStatic() || f.Hidden || len(f.DefaultResponse) == 0 {
			continue
		}
		fr := &models.FieldResponse{
			RecordID: record.ID,
			FieldID:  f.ID,
			Values: []models.FieldResponseValue{
				{Value: f.DefaultResponse, ResponseDate: now},
			},
		}
		if err := s.responses.Create(ctx, fr); err != nil {
			return err
		}
	}
	return nil
}

func (s *recordService) Get(ctx context.Context, recordID uuid.UUID, caller Caller) (*models.Record, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, record, caller); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *recordService) List(ctx context.Context, projectID uuid.UUID, kind models.RecordKind, caller Caller) ([]*models.Record, error) {
	if caller.Instructor {
		instructor, err := s.projects.IsInstructor(ctx, projectID, caller.UserID)
		if err != nil {
			return nil, err
		}
		if instructor {
			return s.records.ListByProject(ctx, projectID, kind)
		}
	}
	records, err := s.records.ListByOwner(ctx, projectID, caller.UserID)
	if err != nil {
		return nil, err
	}
	var filtered []*models.Record
	for _, r := range records {
		if kind == "" || r.Kind == kind {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (s *recordService) AdvanceStage(ctx context.Context, recordID uuid.UUID, req AdvanceStageRequest, caller Caller) (*models.Stage, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	// Stale expectation wins over every other failure.
	if record.StageID != req.ExpectedStageID {
		return nil, apperrors.ErrConflict
	}
	stage, ok := s.graph.Stage(record.StageID)
	if !ok {
		return nil, fmt.Errorf("record %s has unknown stage %s", record.ID, record.StageID)
	}

	action := req.Action
	if action == models.ActionUnlock && record.FeedbackRequested {
		// A note that has been through feedback unlocks back into its
		// post-feedback stage.
		action = models.ActionUnlockPostFeedback
	}

	cc, err := s.access.contextFor(ctx, record, caller)
	if err != nil {
		return nil, err
	}
	perms := s.permissions.Resolve(stage, cc)

	transition, ok := s.graph.Transition(record.StageID, action)
	if ok && transition.SystemOnly() {
		// System transitions exist in the table but are never callable.
		return nil, apperrors.ErrForbidden
	}
	if ok {
		if !perms.Has(*transition.RequiredKey) {
			return nil, apperrors.ErrForbidden
		}
	} else {
		// No row for (stage, action): a caller with no standing at this
		// stage gets forbidden before learning the table's shape.
		if len(perms) == 0 {
			return nil, apperrors.ErrForbidden
		}
		return nil, apperrors.ErrInvalidTransition
	}

	target, ok := s.graph.Stage(transition.ToStageID)
	if !ok {
		return nil, fmt.Errorf("transition %s has unknown target stage", transition.ID)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		swapped, err := s.records.UpdateStage(ctx, record.ID, req.ExpectedStageID, target.ID)
		if err != nil {
			return err
		}
		if !swapped {
			return apperrors.ErrConflict
		}
		return s.applySideEffects(ctx, record, action, target)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Advanced record stage",
		zap.String("record_id", record.ID.String()),
		zap.String("action", string(action)),
		zap.String("from", stage.Value),
		zap.String("to", target.Value))
	return target, nil
}

// applySideEffects runs the domain consequences of a landed transition,
// inside the same transaction as the stage swap.
func (s *recordService) applySideEffects(ctx context.Context, record *models.Record, action models.StageAction, target *models.Stage) error {
	switch {
	case record.Kind == models.RecordKindPlan && target.Value == models.StageApproved:
		return s.startNote(ctx, record)
	case action == models.ActionCompleteFeedback:
		return s.records.SetFeedbackRequested(ctx, record.ID, true)
	}
	return nil
}

// startNote fires the system start transition on a plan's paired note
// and copies the plan's reaction scheme into it.
func (s *recordService) startNote(ctx context.Context, plan *models.Record) error {
	if plan.NoteID == nil {
		return nil
	}
	note, err := s.records.GetByID(ctx, *plan.NoteID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	transition, ok := s.graph.Transition(note.StageID, models.ActionStart)
	if !ok {
		// Note already started (e.g. approval was cancelled and redone).
		return s.copyReactionScheme(ctx, plan, note)
	}
	swapped, err := s.records.UpdateStage(ctx, note.ID, note.StageID, transition.ToStageID)
	if err != nil {
		return err
	}
	if !swapped {
		return apperrors.ErrConflict
	}
	return s.copyReactionScheme(ctx, plan, note)
}

// copyReactionScheme snapshots the plan's latest reaction scheme value
// onto the note's matching field, when both fields exist.
func (s *recordService) copyReactionScheme(ctx context.Context, plan, note *models.Record) error {
	source, err := s.findFieldByName(ctx, plan, reactionSchemeFieldName)
	if err != nil || source == nil {
		return err
	}
	dest, err := s.findFieldByName(ctx, note, reactionSchemeFieldName)
	if err != nil || dest == nil {
		return err
	}

	planResponse, err := s.responses.GetByRecordAndField(ctx, plan.ID, source.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	value := planResponse.CurrentValue()
	if len(value) == 0 {
		return nil
	}

	now := time.Now().UTC()
	noteResponse, err := s.responses.GetByRecordAndField(ctx, note.ID, dest.ID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return s.responses.Create(ctx, &models.FieldResponse{
			RecordID: note.ID,
			FieldID:  dest.ID,
			Values: []models.FieldResponseValue{
				{Value: value, ResponseDate: now},
			},
		})
	}
	_, err = s.responses.AppendValue(ctx, noteResponse.ID, value, now)
	return err
}

func (s *recordService) findFieldByName(ctx context.Context, record *models.Record, name string) (*models.Field, error) {
	fields, err := s.sections.ListFieldsByType(ctx, record.ProjectID, record.Kind.SectionTypeName())
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, nil
}

func (s *recordService) Summary(ctx context.Context, recordID uuid.UUID, caller Caller) (*RecordSummary, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	cc, err := s.access.contextFor(ctx, record, caller)
	if err != nil {
		return nil, err
	}
	stage, ok := s.graph.Stage(record.StageID)
	if !ok {
		return nil, fmt.Errorf("record %s has unknown stage %s", record.ID, record.StageID)
	}
	perms := s.permissions.Resolve(stage, cc)
	if !cc.IsOwnerOrMember() && !perms.Has(models.InstructorCanView) && !perms.Has(models.InstructorCanComment) {
		return nil, apperrors.ErrForbidden
	}

	sections, err := s.sections.ListSectionsByType(ctx, record.ProjectID, record.Kind.SectionTypeName())
	if err != nil {
		return nil, err
	}
	responses, err := s.responses.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	conversations, err := s.conversations.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	fields, err := s.sections.ListFieldsByType(ctx, record.ProjectID, record.Kind.SectionTypeName())
	if err != nil {
		return nil, err
	}

	summary := &RecordSummary{
		Record:      record,
		Stage:       stage,
		Permissions: perms.Keys(),
	}
	approvedAll := true
	for _, section := range sections {
		ss := s.sectionSummary(section, fields, responses, conversations, cc.UserID)
		if !ss.Approved {
			approvedAll = false
		}
		summary.Sections = append(summary.Sections, ss)
	}
	summary.AllSectionsApproved = approvedAll
	return summary, nil
}

// sectionSummary digests one section: approved when every visible
// mandatory field has a response whose conversation is absent or
// resolved, plus the unread comment tally.
func (s *recordService) sectionSummary(
	section *models.Section,
	fields []*models.Field,
	responses []*models.FieldResponse,
	conversations []*models.Conversation,
	readerID string,
) SectionSummary {
	responsesByField := make(map[uuid.UUID]*models.FieldResponse)
	for _, fr := range responses {
		responsesByField[fr.FieldID] = fr
	}
	conversationsByResponse := make(map[uuid.UUID]*models.Conversation)
	for _, c := range conversations {
		conversationsByResponse[c.FieldResponseID] = c
	}

	current := make(map[uuid.UUID]json.RawMessage)
	for _, fr := range responses {
		current[fr.FieldID] = fr.CurrentValue()
	}
	visible := VisibleFields(fields, current)

	ss := SectionSummary{
		SectionID: section.ID,
		Name:      section.Name,
		SortOrder: section.SortOrder,
		Approved:  true,
	}
	for _, f := range fields {
		if f.SectionID != section.ID {
			continue
		}
		fr, hasResponse := responsesByField[f.ID]
		if hasResponse {
			if c := conversationsByResponse[fr.ID]; c != nil {
				ss.UnreadComments += c.UnreadCount(readerID)
				if !c.Resolved && visible[f.ID] {
					ss.Approved = false
				}
			}
		}
		if f.Mandatory && visible[f.ID] && !f.InputType.IsStatic() && !hasResponse {
			ss.Approved = false
		}
	}
	return ss
}

func (s *recordService) IsEverySectionApproved(ctx context.Context, recordID uuid.UUID) (bool, error) {
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return false, err
	}
	sections, err := s.sections.ListSectionsByType(ctx, record.ProjectID, record.Kind.SectionTypeName())
	if err != nil {
		return false, err
	}
	fields, err := s.sections.ListFieldsByType(ctx, record.ProjectID, record.Kind.SectionTypeName())
	if err != nil {
		return false, err
	}
	responses, err := s.responses.ListByRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	conversations, err := s.conversations.ListByRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	for _, section := range sections {
		ss := s.sectionSummary(section, fields, responses, conversations, "")
		if !ss.Approved {
			return false, nil
		}
	}
	return true, nil
}

func (s *recordService) LockGroupNotes(ctx context.Context, groupID uuid.UUID, caller Caller) (int, error) {
	group, err := s.projects.GetGroup(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if !caller.Instructor {
		return 0, apperrors.ErrForbidden
	}
	instructor, err := s.projects.IsInstructor(ctx, group.ProjectID, caller.UserID)
	if err != nil {
		return 0, err
	}
	if !instructor {
		return 0, apperrors.ErrForbidden
	}

	notes, err := s.records.ListByGroup(ctx, groupID, models.RecordKindNote)
	if err != nil {
		return 0, err
	}

	locked := 0
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, note := range notes {
			transition, ok := s.graph.Transition(note.StageID, models.ActionLock)
			if !ok {
				// Already locked, or not yet startable.
				continue
			}
			swapped, err := s.records.UpdateStage(ctx, note.ID, note.StageID, transition.ToStageID)
			if err != nil {
				return err
			}
			if swapped {
				locked++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Locked group notes",
		zap.String("group_id", groupID.String()),
		zap.Int("locked", locked))
	return locked, nil
}

// requireView enforces the read gate shared by Get and Summary.
func (s *recordService) requireView(ctx context.Context, record *models.Record, caller Caller) error {
	cc, err := s.access.contextFor(ctx, record, caller)
	if err != nil {
		return err
	}
	if cc.IsOwnerOrMember() {
		return nil
	}
	stage, ok := s.graph.Stage(record.StageID)
	if !ok {
		return fmt.Errorf("record %s has unknown stage %s", record.ID, record.StageID)
	}
	perms := s.permissions.Resolve(stage, cc)
	if perms.Has(models.InstructorCanView) || perms.Has(models.InstructorCanComment) {
		return nil
	}
	return apperrors.ErrForbidden
}
