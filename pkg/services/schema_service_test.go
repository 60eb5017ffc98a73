package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/models"
)

func newSchemaFixture(t *testing.T) (*SchemaService, *fakeSectionRepo, *models.Section) {
	t.Helper()
	sections := newFakeSectionRepo()
	svc := NewSchemaService(sections, zap.NewNop())

	section, err := svc.CreateSection(context.Background(), uuid.New(), models.RecordKindPlan, "Safety", 1)
	if err != nil {
		t.Fatalf("CreateSection failed: %v", err)
	}
	return svc, sections, section
}

func TestCreateFieldsRejectsTriggerCycle(t *testing.T) {
	svc, sections, section := newSchemaFixture(t)

	a := &models.Field{ID: uuid.New(), Name: "A", InputType: models.InputRadio,
		Options: []models.SelectFieldOption{{Name: "Yes"}}}
	b := &models.Field{ID: uuid.New(), Name: "B", InputType: models.InputRadio,
		Options: []models.SelectFieldOption{{Name: "Yes"}}}
	cause := "Yes"
	a.TriggerCause, a.TriggerTargetID = &cause, &b.ID
	b.TriggerCause, b.TriggerTargetID = &cause, &a.ID

	err := svc.CreateFields(context.Background(), section.ID, []*models.Field{a, b})
	requireSchemaIntegrity(t, err)
	if len(sections.fields) != 0 {
		t.Errorf("Expected nothing persisted after a rejected batch, got %d fields", len(sections.fields))
	}
}

func TestCreateFieldsRejectsDanglingTarget(t *testing.T) {
	svc, sections, section := newSchemaFixture(t)

	cause := "Yes"
	missing := uuid.New()
	f := &models.Field{
		ID: uuid.New(), Name: "Fire Risk", InputType: models.InputRadio,
		Options:      []models.SelectFieldOption{{Name: "Yes"}, {Name: "No"}},
		TriggerCause: &cause, TriggerTargetID: &missing,
	}
	err := svc.CreateFields(context.Background(), section.ID, []*models.Field{f})
	requireSchemaIntegrity(t, err)
	if len(sections.fields) != 0 {
		t.Error("Expected nothing persisted after a rejected batch")
	}
}

func TestCreateFieldsRejectsPartialTriggerEdge(t *testing.T) {
	svc, _, section := newSchemaFixture(t)

	cause := "Yes"
	f := &models.Field{
		ID: uuid.New(), Name: "Fire Risk", InputType: models.InputRadio,
		Options:      []models.SelectFieldOption{{Name: "Yes"}},
		TriggerCause: &cause,
	}
	err := svc.CreateFields(context.Background(), section.ID, []*models.Field{f})
	requireSchemaIntegrity(t, err)
}

func TestCreateFieldsRejectsSelectWithoutOptions(t *testing.T) {
	svc, _, section := newSchemaFixture(t)

	f := &models.Field{ID: uuid.New(), Name: "Fire Risk", InputType: models.InputRadio}
	err := svc.CreateFields(context.Background(), section.ID, []*models.Field{f})
	requireSchemaIntegrity(t, err)
}

func TestCreateFieldsValidatesAcrossExistingFields(t *testing.T) {
	svc, _, section := newSchemaFixture(t)
	ctx := context.Background()

	existing := &models.Field{ID: uuid.New(), Name: "Existing", InputType: models.InputText}
	if err := svc.CreateFields(ctx, section.ID, []*models.Field{existing}); err != nil {
		t.Fatalf("seeding existing field failed: %v", err)
	}

	// A new field may target an already persisted one.
	cause := "Yes"
	f := &models.Field{
		ID: uuid.New(), Name: "Fire Risk", InputType: models.InputRadio,
		Options:      []models.SelectFieldOption{{Name: "Yes"}},
		TriggerCause: &cause, TriggerTargetID: &existing.ID,
	}
	if err := svc.CreateFields(ctx, section.ID, []*models.Field{f}); err != nil {
		t.Fatalf("Expected trigger onto an existing field to be accepted, got %v", err)
	}
}

func chainFields() (a, b, c *models.Field) {
	causeA, causeB := "Yes", "Severe"
	a = &models.Field{ID: uuid.New(), Name: "Fire Risk", InputType: models.InputRadio,
		Options: []models.SelectFieldOption{{Name: "Yes"}, {Name: "No"}}}
	b = &models.Field{ID: uuid.New(), Name: "Severity", InputType: models.InputRadio,
		Options: []models.SelectFieldOption{{Name: "Severe"}, {Name: "Minor"}}}
	c = &models.Field{ID: uuid.New(), Name: "Evacuation Plan", InputType: models.InputDescription}
	a.TriggerCause, a.TriggerTargetID = &causeA, &b.ID
	b.TriggerCause, b.TriggerTargetID = &causeB, &c.ID
	return a, b, c
}

func TestVisibleFieldsFollowsTriggerChain(t *testing.T) {
	a, b, c := chainFields()
	fields := []*models.Field{a, b, c}

	visible := VisibleFields(fields, map[uuid.UUID]json.RawMessage{})
	if !visible[a.ID] || visible[b.ID] || visible[c.ID] {
		t.Errorf("Expected only the chain root visible with no values, got %v", visible)
	}

	visible = VisibleFields(fields, map[uuid.UUID]json.RawMessage{
		a.ID: json.RawMessage(`"Yes"`),
	})
	if !visible[b.ID] || visible[c.ID] {
		t.Error("Expected the first hop visible and the second still hidden")
	}

	visible = VisibleFields(fields, map[uuid.UUID]json.RawMessage{
		a.ID: json.RawMessage(`"Yes"`),
		b.ID: json.RawMessage(`"Severe"`),
	})
	if !visible[c.ID] {
		t.Error("Expected the whole chain visible when every hop is activated")
	}

	// A stale value on a hidden parent must not leak visibility downward.
	visible = VisibleFields(fields, map[uuid.UUID]json.RawMessage{
		a.ID: json.RawMessage(`"No"`),
		b.ID: json.RawMessage(`"Severe"`),
	})
	if visible[b.ID] || visible[c.ID] {
		t.Error("Expected deactivating the root to hide the whole chain")
	}
}

func TestVisibleFieldsMultiselectCause(t *testing.T) {
	cause := "Corrosive"
	target := &models.Field{ID: uuid.New(), Name: "Handling", InputType: models.InputDescription}
	parent := &models.Field{
		ID: uuid.New(), Name: "Hazard Classes", InputType: models.InputMultiple,
		Options: []models.SelectFieldOption{{Name: "Flammable"}, {Name: "Corrosive"}},
		TriggerCause: &cause, TriggerTargetID: &target.ID,
	}
	fields := []*models.Field{parent, target}

	visible := VisibleFields(fields, map[uuid.UUID]json.RawMessage{
		parent.ID: json.RawMessage(`["Flammable","Corrosive"]`),
	})
	if !visible[target.ID] {
		t.Error("Expected target visible when the cause is among the selection")
	}

	visible = VisibleFields(fields, map[uuid.UUID]json.RawMessage{
		parent.ID: json.RawMessage(`["Flammable"]`),
	})
	if visible[target.ID] {
		t.Error("Expected target hidden when the cause is not selected")
	}
}

func TestVisibleFieldsHiddenFlagWins(t *testing.T) {
	cause := "Yes"
	target := &models.Field{ID: uuid.New(), Name: "Internal", InputType: models.InputText, Hidden: true}
	parent := &models.Field{
		ID: uuid.New(), Name: "Toggle", InputType: models.InputRadio,
		Options:      []models.SelectFieldOption{{Name: "Yes"}},
		TriggerCause: &cause, TriggerTargetID: &target.ID,
	}
	visible := VisibleFields([]*models.Field{parent, target}, map[uuid.UUID]json.RawMessage{
		parent.ID: json.RawMessage(`"Yes"`),
	})
	if visible[target.ID] {
		t.Error("Expected the hidden flag to override trigger activation")
	}
}

func TestVisibleFieldsSurvivesMalformedCycle(t *testing.T) {
	// ValidateTriggerChains rejects cycles at authoring time; evaluation
	// must still terminate if one slips through.
	cause := "Yes"
	a := &models.Field{ID: uuid.New(), Name: "A", InputType: models.InputRadio,
		Options: []models.SelectFieldOption{{Name: "Yes"}}}
	b := &models.Field{ID: uuid.New(), Name: "B", InputType: models.InputRadio,
		Options: []models.SelectFieldOption{{Name: "Yes"}}}
	a.TriggerCause, a.TriggerTargetID = &cause, &b.ID
	b.TriggerCause, b.TriggerTargetID = &cause, &a.ID

	VisibleFields([]*models.Field{a, b}, map[uuid.UUID]json.RawMessage{
		a.ID: json.RawMessage(`"Yes"`),
		b.ID: json.RawMessage(`"Yes"`),
	})
}
