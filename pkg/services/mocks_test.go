package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// fakeTx runs the function without a real transaction.
type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// seedGraph builds the authored stage data in memory, matching what the
// migrations seed. Returns the graph and a stage lookup keyed
// "type/StageValue".
func seedGraph() (*StageGraph, map[string]*models.Stage) {
	var types []*models.StageType
	var stages []*models.Stage
	var perms []*models.StagePermission
	var transitions []*models.StageTransition

	typeIDs := map[string]uuid.UUID{}
	stageByKey := map[string]*models.Stage{}

	addType := func(value string) {
		t := &models.StageType{ID: uuid.New(), Value: value}
		types = append(types, t)
		typeIDs[value] = t.ID
	}
	addStage := func(typeValue, value string, sortOrder int) {
		s := &models.Stage{
			ID:          uuid.New(),
			TypeID:      typeIDs[typeValue],
			Value:       value,
			DisplayName: value,
			SortOrder:   sortOrder,
		}
		stages = append(stages, s)
		stageByKey[typeValue+"/"+value] = s
	}
	addPerm := func(typeValue string, min, max int, key models.PermissionKey) {
		perms = append(perms, &models.StagePermission{
			ID: uuid.New(), TypeID: typeIDs[typeValue],
			MinSortOrder: min, MaxSortOrder: max, Key: key,
		})
	}
	addTransition := func(typeValue, from string, action models.StageAction, to string, key *models.PermissionKey) {
		transitions = append(transitions, &models.StageTransition{
			ID:          uuid.New(),
			TypeID:      typeIDs[typeValue],
			FromStageID: stageByKey[typeValue+"/"+from].ID,
			Action:      action,
			ToStageID:   stageByKey[typeValue+"/"+to].ID,
			RequiredKey: key,
		})
	}
	keyPtr := func(k models.PermissionKey) *models.PermissionKey { return &k }

	for _, tv := range []string{"literature_review", "plan"} {
		addType(tv)
		addStage(tv, models.StageDraft, 1)
		addStage(tv, models.StageInReview, 2)
		addStage(tv, models.StageAwaitingChanges, 3)
		addStage(tv, models.StageApproved, 99)
		awaiting := stageByKey[tv+"/"+models.StageAwaitingChanges]
		review := stageByKey[tv+"/"+models.StageInReview]
		awaiting.NextStageID = &review.ID

		addPerm(tv, 1, 1, models.OwnerCanEdit)
		addPerm(tv, 3, 3, models.OwnerCanEditCommented)
		addPerm(tv, 2, 99, models.InstructorCanView)
		addPerm(tv, 2, 2, models.InstructorCanComment)

		addTransition(tv, models.StageDraft, models.ActionSubmit, models.StageInReview, keyPtr(models.OwnerCanEdit))
		addTransition(tv, models.StageInReview, models.ActionRequestChanges, models.StageAwaitingChanges, keyPtr(models.InstructorCanComment))
		addTransition(tv, models.StageAwaitingChanges, models.ActionResubmit, models.StageInReview, keyPtr(models.OwnerCanEditCommented))
		addTransition(tv, models.StageAwaitingChanges, models.ActionCancelRequestChanges, models.StageInReview, keyPtr(models.InstructorCanView))
		addTransition(tv, models.StageInReview, models.ActionMarkApproved, models.StageApproved, keyPtr(models.InstructorCanComment))
		addTransition(tv, models.StageApproved, models.ActionCancelApproval, models.StageInReview, keyPtr(models.InstructorCanView))
	}

	addType("note")
	addStage("note", models.StageDraft, 1)
	addStage("note", models.StageInProgress, 2)
	addStage("note", models.StageFeedbackRequested, 5)
	addStage("note", models.StageInProgressPostFeedback, 10)
	addStage("note", models.StageLocked, 95)
	addPerm("note", 2, 10, models.OwnerCanEdit)
	addPerm("note", 2, 95, models.InstructorCanView)
	addTransition("note", models.StageDraft, models.ActionStart, models.StageInProgress, nil)
	addTransition("note", models.StageInProgress, models.ActionRequestFeedback, models.StageFeedbackRequested, keyPtr(models.OwnerCanEdit))
	addTransition("note", models.StageFeedbackRequested, models.ActionCompleteFeedback, models.StageInProgressPostFeedback, keyPtr(models.InstructorCanView))
	addTransition("note", models.StageInProgress, models.ActionLock, models.StageLocked, keyPtr(models.InstructorCanView))
	addTransition("note", models.StageFeedbackRequested, models.ActionLock, models.StageLocked, keyPtr(models.InstructorCanView))
	addTransition("note", models.StageInProgressPostFeedback, models.ActionLock, models.StageLocked, keyPtr(models.InstructorCanView))
	addTransition("note", models.StageLocked, models.ActionUnlock, models.StageInProgress, keyPtr(models.InstructorCanView))
	addTransition("note", models.StageLocked, models.ActionUnlockPostFeedback, models.StageInProgressPostFeedback, keyPtr(models.InstructorCanView))

	addType("report")
	addStage("report", models.StageDraft, 1)
	addStage("report", models.StageSubmitted, 5)
	addPerm("report", 1, 1, models.OwnerCanEdit)
	addPerm("report", 5, 5, models.InstructorCanView)
	addTransition("report", models.StageDraft, models.ActionSubmit, models.StageSubmitted, keyPtr(models.OwnerCanEdit))

	addType("project_group")
	addStage("project_group", models.StageOnGoing, 1)
	addStage("project_group", models.StageCompleted, 99)
	addTransition("project_group", models.StageOnGoing, models.ActionComplete, models.StageCompleted, keyPtr(models.InstructorCanView))

	graph, err := NewStageGraph(types, stages, perms, transitions)
	if err != nil {
		panic(fmt.Sprintf("seed graph invalid: %v", err))
	}
	return graph, stageByKey
}

// fakeRecordRepo is an in-memory RecordRepository.
type fakeRecordRepo struct {
	records map[uuid.UUID]*models.Record
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: map[uuid.UUID]*models.Record{}}
}

var _ repositories.RecordRepository = (*fakeRecordRepo)(nil)

func (r *fakeRecordRepo) Create(ctx context.Context, record *models.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *fakeRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *fakeRecordRepo) ListByProject(ctx context.Context, projectID uuid.UUID, kind models.RecordKind) ([]*models.Record, error) {
	var out []*models.Record
	for _, rec := range r.records {
		if rec.ProjectID == projectID && rec.Kind == kind {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) ListByOwner(ctx context.Context, projectID uuid.UUID, ownerID string) ([]*models.Record, error) {
	var out []*models.Record
	for _, rec := range r.records {
		if rec.ProjectID == projectID && rec.OwnedBy(ownerID) {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) ListByGroup(ctx context.Context, groupID uuid.UUID, kind models.RecordKind) ([]*models.Record, error) {
	var out []*models.Record
	for _, rec := range r.records {
		if rec.ProjectGroupID != nil && *rec.ProjectGroupID == groupID && rec.Kind == kind {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) UpdateStage(ctx context.Context, recordID, expectedStageID, toStageID uuid.UUID) (bool, error) {
	rec, ok := r.records[recordID]
	if !ok || rec.StageID != expectedStageID {
		return false, nil
	}
	rec.StageID = toStageID
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeRecordRepo) SetFeedbackRequested(ctx context.Context, recordID uuid.UUID, requested bool) error {
	rec, ok := r.records[recordID]
	if !ok {
		return apperrors.ErrNotFound
	}
	rec.FeedbackRequested = requested
	return nil
}

func (r *fakeRecordRepo) SetNoteID(ctx context.Context, recordID, noteID uuid.UUID) error {
	rec, ok := r.records[recordID]
	if !ok {
		return apperrors.ErrNotFound
	}
	id := noteID
	rec.NoteID = &id
	return nil
}

// fakeSectionRepo is an in-memory SectionRepository.
type fakeSectionRepo struct {
	sectionTypes map[string]*models.SectionType
	sections     map[uuid.UUID]*models.Section
	fields       map[uuid.UUID]*models.Field
}

func newFakeSectionRepo() *fakeSectionRepo {
	r := &fakeSectionRepo{
		sectionTypes: map[string]*models.SectionType{},
		sections:     map[uuid.UUID]*models.Section{},
		fields:       map[uuid.UUID]*models.Field{},
	}
	for _, kind := range models.ValidRecordKinds {
		name := kind.SectionTypeName()
		r.sectionTypes[name] = &models.SectionType{ID: uuid.New(), Name: name}
	}
	return r
}

var _ repositories.SectionRepository = (*fakeSectionRepo)(nil)

func (r *fakeSectionRepo) GetSectionType(ctx context.Context, name string) (*models.SectionType, error) {
	t, ok := r.sectionTypes[name]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return t, nil
}

func (r *fakeSectionRepo) CreateSection(ctx context.Context, section *models.Section) error {
	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	clone := *section
	r.sections[section.ID] = &clone
	return nil
}

func (r *fakeSectionRepo) GetSection(ctx context.Context, id uuid.UUID) (*models.Section, error) {
	s, ok := r.sections[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *fakeSectionRepo) ListSectionsByType(ctx context.Context, projectID uuid.UUID, typeName string) ([]*models.Section, error) {
	t, ok := r.sectionTypes[typeName]
	if !ok {
		return nil, nil
	}
	var out []*models.Section
	for _, s := range r.sections {
		if s.ProjectID == projectID && s.SectionTypeID == t.ID {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeSectionRepo) CreateField(ctx context.Context, field *models.Field) error {
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	clone := *field
	r.fields[field.ID] = &clone
	return nil
}

func (r *fakeSectionRepo) SetTrigger(ctx context.Context, fieldID uuid.UUID, cause string, targetID uuid.UUID) error {
	f, ok := r.fields[fieldID]
	if !ok {
		return apperrors.ErrNotFound
	}
	c := cause
	t := targetID
	f.TriggerCause = &c
	f.TriggerTargetID = &t
	return nil
}

func (r *fakeSectionRepo) GetField(ctx context.Context, id uuid.UUID) (*models.Field, error) {
	f, ok := r.fields[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *f
	return &clone, nil
}

func (r *fakeSectionRepo) ListFieldsBySection(ctx context.Context, sectionID uuid.UUID) ([]*models.Field, error) {
	var out []*models.Field
	for _, f := range r.fields {
		if f.SectionID == sectionID {
			clone := *f
			out = append(out, &clone)
		}
	}
	sortFieldsBySortOrder(out)
	return out, nil
}

func (r *fakeSectionRepo) ListFieldsByType(ctx context.Context, projectID uuid.UUID, typeName string) ([]*models.Field, error) {
	t, ok := r.sectionTypes[typeName]
	if !ok {
		return nil, nil
	}
	var out []*models.Field
	for _, f := range r.fields {
		s, ok := r.sections[f.SectionID]
		if !ok || s.ProjectID != projectID || s.SectionTypeID != t.ID {
			continue
		}
		clone := *f
		out = append(out, &clone)
	}
	sortFieldsBySortOrder(out)
	return out, nil
}

func sortFieldsBySortOrder(fields []*models.Field) {
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j-1].SortOrder > fields[j].SortOrder; j-- {
			fields[j-1], fields[j] = fields[j], fields[j-1]
		}
	}
}

// fakeResponseRepo is an in-memory FieldResponseRepository.
type fakeResponseRepo struct {
	responses map[uuid.UUID]*models.FieldResponse
}

func newFakeResponseRepo() *fakeResponseRepo {
	return &fakeResponseRepo{responses: map[uuid.UUID]*models.FieldResponse{}}
}

var _ repositories.FieldResponseRepository = (*fakeResponseRepo)(nil)

func (r *fakeResponseRepo) Create(ctx context.Context, response *models.FieldResponse) error {
	if response.ID == uuid.Nil {
		response.ID = uuid.New()
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
	}
	clone := *response
	clone.Values = append([]models.FieldResponseValue(nil), response.Values...)
	r.responses[response.ID] = &clone
	return nil
}

func (r *fakeResponseRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FieldResponse, error) {
	fr, ok := r.responses[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *fr
	clone.Values = append([]models.FieldResponseValue(nil), fr.Values...)
	return &clone, nil
}

func (r *fakeResponseRepo) GetByRecordAndField(ctx context.Context, recordID, fieldID uuid.UUID) (*models.FieldResponse, error) {
	for _, fr := range r.responses {
		if fr.RecordID == recordID && fr.FieldID == fieldID {
			clone := *fr
			clone.Values = append([]models.FieldResponseValue(nil), fr.Values...)
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeResponseRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*models.FieldResponse, error) {
	var out []*models.FieldResponse
	for _, fr := range r.responses {
		if fr.RecordID == recordID {
			clone := *fr
			clone.Values = append([]models.FieldResponseValue(nil), fr.Values...)
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeResponseRepo) AppendValue(ctx context.Context, responseID uuid.UUID, value json.RawMessage, at time.Time) (*models.FieldResponseValue, error) {
	fr, ok := r.responses[responseID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	v := models.FieldResponseValue{
		ID:              uuid.New(),
		FieldResponseID: responseID,
		Value:           value,
		ResponseDate:    at,
	}
	fr.Values = append(fr.Values, v)
	return &v, nil
}

// fakeConversationRepo is an in-memory ConversationRepository.
type fakeConversationRepo struct {
	conversations map[uuid.UUID]*models.Conversation
	responses     *fakeResponseRepo
}

func newFakeConversationRepo(responses *fakeResponseRepo) *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: map[uuid.UUID]*models.Conversation{},
		responses:     responses,
	}
}

var _ repositories.ConversationRepository = (*fakeConversationRepo)(nil)

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *models.Conversation) error {
	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	conversation.CreatedAt = time.Now().UTC()
	clone := *conversation
	clone.Comments = append([]models.Comment(nil), conversation.Comments...)
	r.conversations[conversation.ID] = &clone
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	c, ok := r.conversations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *c
	clone.Comments = append([]models.Comment(nil), c.Comments...)
	return &clone, nil
}

func (r *fakeConversationRepo) GetByFieldResponse(ctx context.Context, fieldResponseID uuid.UUID) (*models.Conversation, error) {
	for _, c := range r.conversations {
		if c.FieldResponseID == fieldResponseID {
			clone := *c
			clone.Comments = append([]models.Comment(nil), c.Comments...)
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeConversationRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for _, c := range r.conversations {
		fr, err := r.responses.GetByID(ctx, c.FieldResponseID)
		if err != nil || fr.RecordID != recordID {
			continue
		}
		clone := *c
		clone.Comments = append([]models.Comment(nil), c.Comments...)
		out = append(out, &clone)
	}
	return out, nil
}

func (r *fakeConversationRepo) AddComment(ctx context.Context, comment *models.Comment) error {
	c, ok := r.conversations[comment.ConversationID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if comment.ID == uuid.Nil {
		comment.ID = uuid.New()
	}
	if comment.CommentDate.IsZero() {
		comment.CommentDate = time.Now().UTC()
	}
	c.Comments = append(c.Comments, *comment)
	return nil
}

func (r *fakeConversationRepo) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	for _, c := range r.conversations {
		for i := range c.Comments {
			if c.Comments[i].ID == id {
				clone := c.Comments[i]
				return &clone, nil
			}
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeConversationRepo) MarkCommentRead(ctx context.Context, commentID uuid.UUID) error {
	for _, c := range r.conversations {
		for i := range c.Comments {
			if c.Comments[i].ID == commentID {
				c.Comments[i].Read = true
				return nil
			}
		}
	}
	return apperrors.ErrNotFound
}

func (r *fakeConversationRepo) SetResolved(ctx context.Context, conversationID uuid.UUID, resolved bool) error {
	c, ok := r.conversations[conversationID]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.Resolved = resolved
	return nil
}

// fakeProjectRepo is an in-memory ProjectRepository.
type fakeProjectRepo struct {
	projects    map[uuid.UUID]*models.Project
	groups      map[uuid.UUID]*models.ProjectGroup
	members     map[uuid.UUID]map[string]bool
	instructors map[uuid.UUID]map[string]bool
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{
		projects:    map[uuid.UUID]*models.Project{},
		groups:      map[uuid.UUID]*models.ProjectGroup{},
		members:     map[uuid.UUID]map[string]bool{},
		instructors: map[uuid.UUID]map[string]bool{},
	}
}

var _ repositories.ProjectRepository = (*fakeProjectRepo)(nil)

func (r *fakeProjectRepo) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	project.CreatedAt = time.Now().UTC()
	clone := *project
	r.projects[project.ID] = &clone
	return nil
}

func (r *fakeProjectRepo) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakeProjectRepo) CreateGroup(ctx context.Context, group *models.ProjectGroup) error {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	group.CreatedAt = time.Now().UTC()
	clone := *group
	r.groups[group.ID] = &clone
	return nil
}

func (r *fakeProjectRepo) GetGroup(ctx context.Context, id uuid.UUID) (*models.ProjectGroup, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *g
	return &clone, nil
}

func (r *fakeProjectRepo) ListGroupsByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectGroup, error) {
	var out []*models.ProjectGroup
	for _, g := range r.groups {
		if g.ProjectID == projectID {
			clone := *g
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) AddMember(ctx context.Context, groupID uuid.UUID, userID string) error {
	if r.members[groupID] == nil {
		r.members[groupID] = map[string]bool{}
	}
	r.members[groupID][userID] = true
	return nil
}

func (r *fakeProjectRepo) IsMember(ctx context.Context, groupID uuid.UUID, userID string) (bool, error) {
	return r.members[groupID][userID], nil
}

func (r *fakeProjectRepo) AddInstructor(ctx context.Context, projectID uuid.UUID, userID string) error {
	if r.instructors[projectID] == nil {
		r.instructors[projectID] = map[string]bool{}
	}
	r.instructors[projectID][userID] = true
	return nil
}

func (r *fakeProjectRepo) IsInstructor(ctx context.Context, projectID uuid.UUID, userID string) (bool, error) {
	return r.instructors[projectID][userID], nil
}
