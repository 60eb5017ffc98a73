package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/config"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// TxRunner runs a function inside a database transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// FormFieldModel is one field of a section form as shown to a caller.
type FormFieldModel struct {
	FieldID         uuid.UUID        `json:"field_id"`
	Name            string           `json:"name"`
	InputType       models.InputType `json:"input_type"`
	SortOrder       int              `json:"sort_order"`
	Mandatory       bool             `json:"mandatory"`
	Options         []string         `json:"options,omitempty"`
	TriggerCause    *string          `json:"trigger_cause,omitempty"`
	TriggerTargetID *uuid.UUID       `json:"trigger_target_id,omitempty"`
	// Shown reports whether the field is currently visible given the
	// record's values and the trigger chains.
	Shown bool `json:"shown"`
	// ResponseID is nil for static fields, which carry no response.
	ResponseID     *uuid.UUID      `json:"response_id,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	Approved       bool            `json:"approved"`
	UnreadComments int             `json:"unread_comments"`
}

// SectionFormModel is a section's field list with current values.
type SectionFormModel struct {
	SectionID   uuid.UUID        `json:"section_id"`
	SectionName string           `json:"section_name"`
	RecordID    uuid.UUID        `json:"record_id"`
	Editable    bool             `json:"editable"`
	Fields      []FormFieldModel `json:"fields"`
}

// FieldResponseEntry is one submitted field value in a batch save.
type FieldResponseEntry struct {
	FieldID uuid.UUID       `json:"field_id"`
	Value   json.RawMessage `json:"value"`
}

// FormService reads and writes section forms against a record.
type FormService interface {
	GetSectionForm(ctx context.Context, recordID, sectionID uuid.UUID, caller Caller) (*SectionFormModel, error)
	// SaveForm validates and persists a batch of field values. The batch
	// is atomic: any validation failure rejects the whole submission and
	// nothing is written. Accepted values are appended to each response's
	// history, never overwritten.
	SaveForm(ctx context.Context, recordID, sectionID uuid.UUID, caller Caller, entries []FieldResponseEntry) (*SectionFormModel, error)
}

// FormServiceDeps bundles the collaborators for NewFormService.
type FormServiceDeps struct {
	Tx            TxRunner
	Records       repositories.RecordRepository
	Sections      repositories.SectionRepository
	Responses     repositories.FieldResponseRepository
	Conversations repositories.ConversationRepository
	Projects      repositories.ProjectRepository
	Graph         *StageGraph
	Permissions   *PermissionService
	Uploads       *config.UploadsConfig
	Logger        *zap.Logger
}

type formService struct {
	tx            TxRunner
	records       repositories.RecordRepository
	sections      repositories.SectionRepository
	responses     repositories.FieldResponseRepository
	conversations repositories.ConversationRepository
	graph         *StageGraph
	permissions   *PermissionService
	uploads       *config.UploadsConfig
	access        accessResolver
	logger        *zap.Logger
}

// NewFormService creates a new form service.
func NewFormService(deps FormServiceDeps) FormService {
	return &formService{
		tx:            deps.Tx,
		records:       deps.Records,
		sections:      deps.Sections,
		responses:     deps.Responses,
		conversations: deps.Conversations,
		graph:         deps.Graph,
		permissions:   deps.Permissions,
		uploads:       deps.Uploads,
		access:        accessResolver{projects: deps.Projects},
		logger:        deps.Logger.Named("form"),
	}
}

var _ FormService = (*formService)(nil)

func (s *formService) GetSectionForm(ctx context.Context, recordID, sectionID uuid.UUID, caller Caller) (*SectionFormModel, error) {
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
	if !s.canView(record, cc, perms) {
		return nil, apperrors.ErrForbidden
	}

	section, err := s.sections.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if section.ProjectID != record.ProjectID {
		return nil, apperrors.ErrNotFound
	}
	fields, err := s.sections.ListFieldsBySection(ctx, sectionID)
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

	return s.buildForm(record, section, fields, responses, conversations, cc, perms), nil
}

func (s *formService) SaveForm(ctx context.Context, recordID, sectionID uuid.UUID, caller Caller, entries []FieldResponseEntry) (*SectionFormModel, error) {
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
	if !s.canEdit(record, cc, perms) {
		return nil, apperrors.ErrForbidden
	}

	section, err := s.sections.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if section.ProjectID != record.ProjectID {
		return nil, apperrors.ErrNotFound
	}
	fields, err := s.sections.ListFieldsBySection(ctx, sectionID)
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

	fieldsByID := make(map[uuid.UUID]*models.Field, len(fields))
	for _, f := range fields {
		fieldsByID[f.ID] = f
	}
	responsesByField := make(map[uuid.UUID]*models.FieldResponse, len(responses))
	for _, fr := range responses {
		responsesByField[fr.FieldID] = fr
	}
	conversationsByResponse := make(map[uuid.UUID]*models.Conversation, len(conversations))
	for _, c := range conversations {
		conversationsByResponse[c.FieldResponseID] = c
	}

	// Merge submitted values over stored ones so trigger evaluation sees
	// the state the batch would produce.
	merged := make(map[uuid.UUID]json.RawMessage)
	for _, fr := range responses {
		merged[fr.FieldID] = fr.CurrentValue()
	}
	vErr := &apperrors.ValidationError{}
	for _, e := range entries {
		f, ok := fieldsByID[e.FieldID]
		if !ok {
			vErr.Add(e.FieldID, "unknown field for this section")
			continue
		}
		if f.InputType.IsStatic() {
			vErr.Add(e.FieldID, "field does not accept responses")
			continue
		}
		merged[e.FieldID] = e.Value
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	visible := VisibleFields(fields, merged)
	for _, f := range fields {
		if !visible[f.ID] || f.InputType.IsStatic() {
			continue
		}
		s.validateField(f, merged[f.ID], vErr)
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	// Once commented-only editing applies, responses with a resolved
	// conversation stay frozen.
	frozen := func(fieldID uuid.UUID) bool {
		if perms.Has(models.OwnerCanEdit) {
			return false
		}
		fr, ok := responsesByField[fieldID]
		if !ok {
			return false
		}
		c := conversationsByResponse[fr.ID]
		return c != nil && c.Resolved
	}

	now := time.Now().UTC()
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			f := fieldsByID[e.FieldID]
			if !visible[f.ID] || frozen(f.ID) {
				continue
			}
			fr, ok := responsesByField[f.ID]
			if !ok {
				fr = &models.FieldResponse{
					RecordID: record.ID,
					FieldID:  f.ID,
					Values: []models.FieldResponseValue{
						{Value: e.Value, ResponseDate: now},
					},
				}
				if err := s.responses.Create(ctx, fr); err != nil {
					return err
				}
				responsesByField[f.ID] = fr
				continue
			}
			if _, err := s.responses.AppendValue(ctx, fr.ID, e.Value, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Saved section form",
		zap.String("record_id", recordID.String()),
		zap.String("section_id", sectionID.String()),
		zap.Int("entries", len(entries)))

	return s.GetSectionForm(ctx, recordID, sectionID, caller)
}

// canView gates form reads: owners and group members always, project
// instructors only while a view permission covers the stage.
func (s *formService) canView(record *models.Record, cc CallerContext, perms PermissionSet) bool {
	if cc.IsOwnerOrMember() {
		return true
	}
	return perms.Has(models.InstructorCanView) || perms.Has(models.InstructorCanComment)
}

// canEdit gates form writes. Group workspaces are editable by any group
// member; everything else needs an owner edit key at the current stage.
func (s *formService) canEdit(record *models.Record, cc CallerContext, perms PermissionSet) bool {
	if record.Kind.GroupScoped() {
		return cc.IsGroupMember
	}
	return perms.CanEdit()
}

// validateField applies the per-type value rules to one visible field.
func (s *formService) validateField(f *models.Field, value json.RawMessage, vErr *apperrors.ValidationError) {
	if isEmptyValue(value) {
		if f.Mandatory {
			vErr.Add(f.ID, "value is required")
		}
		return
	}

	switch {
	case f.InputType == models.InputNumber:
		if !isNumericValue(value) {
			vErr.Add(f.ID, "value must be numeric")
		}
	case f.InputType == models.InputDateTime:
		var ts string
		if err := json.Unmarshal(value, &ts); err != nil {
			vErr.Add(f.ID, "value must be a timestamp string")
			return
		}
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			vErr.Add(f.ID, "value must be an RFC 3339 timestamp")
		}
	case f.InputType == models.InputRadio:
		var name string
		if err := json.Unmarshal(value, &name); err != nil {
			vErr.Add(f.ID, "value must be an option name")
			return
		}
		if _, ok := f.OptionNamed(name); !ok {
			vErr.Add(f.ID, fmt.Sprintf("unknown option %q", name))
		}
	case f.InputType == models.InputMultiple:
		var names []string
		if err := json.Unmarshal(value, &names); err != nil {
			vErr.Add(f.ID, "value must be a list of option names")
			return
		}
		for _, name := range names {
			if _, ok := f.OptionNamed(name); !ok {
				vErr.Add(f.ID, fmt.Sprintf("unknown option %q", name))
			}
		}
	case f.InputType.IsFile():
		var files []models.FileMetadata
		if err := json.Unmarshal(value, &files); err != nil {
			vErr.Add(f.ID, "value must be a list of file metadata")
			return
		}
		for _, file := range files {
			ext := filepath.Ext(file.Name)
			if s.uploads != nil && !s.uploads.Allowed(ext) {
				vErr.Add(f.ID, fmt.Sprintf("file extension %q not allowed", ext))
			}
			if file.Location == "" {
				vErr.Add(f.ID, "file metadata missing location")
			}
		}
	}
}

// buildForm assembles the section form model. Hidden fields are omitted
// entirely; trigger targets are included with Shown reflecting whether
// their chain is currently active.
func (s *formService) buildForm(
	record *models.Record,
	section *models.Section,
	fields []*models.Field,
	responses []*models.FieldResponse,
	conversations []*models.Conversation,
	cc CallerContext,
	perms PermissionSet,
) *SectionFormModel {
	responsesByField := make(map[uuid.UUID]*models.FieldResponse, len(responses))
	for _, fr := range responses {
		responsesByField[fr.FieldID] = fr
	}
	conversationsByResponse := make(map[uuid.UUID]*models.Conversation, len(conversations))
	for _, c := range conversations {
		conversationsByResponse[c.FieldResponseID] = c
	}

	current := make(map[uuid.UUID]json.RawMessage, len(responses))
	for _, fr := range responses {
		current[fr.FieldID] = fr.CurrentValue()
	}
	visible := VisibleFields(fields, current)

	form := &SectionFormModel{
		SectionID:   section.ID,
		SectionName: section.Name,
		RecordID:    record.ID,
		Editable:    s.canEdit(record, cc, perms),
	}
	for _, f := range fields {
		if f.Hidden {
			continue
		}
		m := FormFieldModel{
			FieldID:         f.ID,
			Name:            f.Name,
			InputType:       f.InputType,
			SortOrder:       f.SortOrder,
			Mandatory:       f.Mandatory,
			TriggerCause:    f.TriggerCause,
			TriggerTargetID: f.TriggerTargetID,
			Shown:           visible[f.ID],
			Approved:        true,
		}
		for _, opt := range f.Options {
			m.Options = append(m.Options, opt.Name)
		}
		if !f.InputType.IsStatic() {
			if fr, ok := responsesByField[f.ID]; ok {
				id := fr.ID
				m.ResponseID = &id
				m.Value = fr.CurrentValue()
				if c := conversationsByResponse[fr.ID]; c != nil {
					m.Approved = c.Resolved
					m.UnreadComments = c.UnreadCount(cc.UserID)
				}
			} else if len(f.DefaultResponse) > 0 {
				m.Value = f.DefaultResponse
			}
		}
		form.Fields = append(form.Fields, m)
	}
	return form
}

// isEmptyValue treats missing, null, empty string and empty array JSON
// as absent.
func isEmptyValue(value json.RawMessage) bool {
	if len(value) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// isNumericValue accepts JSON numbers and numeric strings.
func isNumericValue(value json.RawMessage) bool {
	var n float64
	if err := json.Unmarshal(value, &n); err == nil {
		return true
	}
	var str string
	if err := json.Unmarshal(value, &str); err != nil {
		return false
	}
	_, err := strconv.ParseFloat(str, 64)
	return err == nil
}

// ErrIsValidation reports whether err is a batch validation failure.
func ErrIsValidation(err error) bool {
	var v *apperrors.ValidationError
	return errors.As(err, &v)
}
