package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/config"
	"github.com/labbook-edu/labbook-engine/pkg/models"
)

// scenario bundles the in-memory repositories and seeded stage graph
// that the service tests share: one project with one group (alice, bob)
// and one rostered instructor (dr-grey).
type scenario struct {
	t *testing.T

	graph  *StageGraph
	stages map[string]*models.Stage
	perms  *PermissionService

	records       *fakeRecordRepo
	sections      *fakeSectionRepo
	responses     *fakeResponseRepo
	conversations *fakeConversationRepo
	projects      *fakeProjectRepo

	project *models.Project
	group   *models.ProjectGroup
}

var (
	asAlice      = Caller{UserID: "alice"}
	asBob        = Caller{UserID: "bob"}
	asCarol      = Caller{UserID: "carol"}
	asInstructor = Caller{UserID: "dr-grey", Instructor: true}
)

func newScenario(t *testing.T) *scenario {
	t.Helper()
	ctx := context.Background()

	graph, stages := seedGraph()
	responses := newFakeResponseRepo()
	sc := &scenario{
		t:             t,
		graph:         graph,
		stages:        stages,
		perms:         NewPermissionService(graph),
		records:       newFakeRecordRepo(),
		sections:      newFakeSectionRepo(),
		responses:     responses,
		conversations: newFakeConversationRepo(responses),
		projects:      newFakeProjectRepo(),
	}

	sc.project = &models.Project{Name: "Organic Chemistry 101"}
	if err := sc.projects.CreateProject(ctx, sc.project); err != nil {
		t.Fatalf("creating fixture project: %v", err)
	}
	sc.group = &models.ProjectGroup{ProjectID: sc.project.ID, Name: "Group A"}
	if err := sc.projects.CreateGroup(ctx, sc.group); err != nil {
		t.Fatalf("creating fixture group: %v", err)
	}
	for _, userID := range []string{"alice", "bob"} {
		if err := sc.projects.AddMember(ctx, sc.group.ID, userID); err != nil {
			t.Fatalf("adding fixture member: %v", err)
		}
	}
	if err := sc.projects.AddInstructor(ctx, sc.project.ID, "dr-grey"); err != nil {
		t.Fatalf("adding fixture instructor: %v", err)
	}
	return sc
}

func (sc *scenario) recordService() RecordService {
	return NewRecordService(RecordServiceDeps{
		Tx:            fakeTx{},
		Records:       sc.records,
		Sections:      sc.sections,
		Responses:     sc.responses,
		Conversations: sc.conversations,
		Projects:      sc.projects,
		Graph:         sc.graph,
		Permissions:   sc.perms,
		Logger:        zap.NewNop(),
	})
}

func (sc *scenario) formService() FormService {
	return NewFormService(FormServiceDeps{
		Tx:            fakeTx{},
		Records:       sc.records,
		Sections:      sc.sections,
		Responses:     sc.responses,
		Conversations: sc.conversations,
		Projects:      sc.projects,
		Graph:         sc.graph,
		Permissions:   sc.perms,
		Uploads:       testUploads(),
		Logger:        zap.NewNop(),
	})
}

func (sc *scenario) commentService() CommentService {
	return NewCommentService(CommentServiceDeps{
		Tx:            fakeTx{},
		Records:       sc.records,
		Responses:     sc.responses,
		Conversations: sc.conversations,
		Projects:      sc.projects,
		Graph:         sc.graph,
		Permissions:   sc.perms,
		Logger:        zap.NewNop(),
	})
}

func testUploads() *config.UploadsConfig {
	return &config.UploadsConfig{
		AllowedExtensions: []string{".pdf", ".png", ".csv"},
		MaxSizeBytes:      1 << 20,
	}
}

// stage resolves a fixture stage by "type/Value" key.
func (sc *scenario) stage(key string) *models.Stage {
	sc.t.Helper()
	s, ok := sc.stages[key]
	if !ok {
		sc.t.Fatalf("unknown fixture stage %q", key)
	}
	return s
}

// addSection creates a section in the project's form definition.
func (sc *scenario) addSection(kind models.RecordKind, name string) *models.Section {
	sc.t.Helper()
	sectionType, err := sc.sections.GetSectionType(context.Background(), kind.SectionTypeName())
	if err != nil {
		sc.t.Fatalf("resolving section type: %v", err)
	}
	section := &models.Section{
		ProjectID:     sc.project.ID,
		SectionTypeID: sectionType.ID,
		Name:          name,
		SortOrder:     len(sc.sections.sections) + 1,
	}
	if err := sc.sections.CreateSection(context.Background(), section); err != nil {
		sc.t.Fatalf("creating fixture section: %v", err)
	}
	return section
}

// addField persists a field into the section.
func (sc *scenario) addField(section *models.Section, f *models.Field) *models.Field {
	sc.t.Helper()
	f.SectionID = section.ID
	if f.SortOrder == 0 {
		f.SortOrder = len(sc.sections.fields) + 1
	}
	if err := sc.sections.CreateField(context.Background(), f); err != nil {
		sc.t.Fatalf("creating fixture field: %v", err)
	}
	return f
}

// newRecord inserts a record directly, bypassing the creation flow.
func (sc *scenario) newRecord(kind models.RecordKind, stageKey string, owner string) *models.Record {
	sc.t.Helper()
	record := &models.Record{
		Kind:           kind,
		ProjectID:      sc.project.ID,
		ProjectGroupID: &sc.group.ID,
		Title:          "Synthesis of Aspirin",
		StageID:        sc.stage(stageKey).ID,
	}
	if owner != "" {
		record.OwnerID = &owner
	}
	if err := sc.records.Create(context.Background(), record); err != nil {
		sc.t.Fatalf("creating fixture record: %v", err)
	}
	return record
}

// addResponse seeds a response with a single value for the field.
func (sc *scenario) addResponse(record *models.Record, field *models.Field, value string) *models.FieldResponse {
	sc.t.Helper()
	fr := &models.FieldResponse{
		RecordID: record.ID,
		FieldID:  field.ID,
		Values: []models.FieldResponseValue{
			{Value: json.RawMessage(value), ResponseDate: time.Now().UTC().Add(-time.Hour)},
		},
	}
	if err := sc.responses.Create(context.Background(), fr); err != nil {
		sc.t.Fatalf("creating fixture response: %v", err)
	}
	return fr
}
