package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/apperrors"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// SchemaService owns the per-project field schema: authoring sections
// and fields, validating trigger chains, and evaluating which fields are
// visible given a set of current values.
type SchemaService struct {
	sections repositories.SectionRepository
	logger   *zap.Logger
}

// NewSchemaService creates a new schema service.
func NewSchemaService(sections repositories.SectionRepository, logger *zap.Logger) *SchemaService {
	return &SchemaService{
		sections: sections,
		logger:   logger.Named("schema"),
	}
}

// CreateSection persists a section for the project's form definition of
// the given record kind.
func (s *SchemaService) CreateSection(ctx context.Context, projectID uuid.UUID, kind models.RecordKind, name string, sortOrder int) (*models.Section, error) {
	sectionType, err := s.sections.GetSectionType(ctx, kind.SectionTypeName())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve section type %q: %w", kind, err)
	}

	section := &models.Section{
		ProjectID:     projectID,
		SectionTypeID: sectionType.ID,
		Name:          name,
		SortOrder:     sortOrder,
	}
	if err := s.sections.CreateSection(ctx, section); err != nil {
		return nil, err
	}
	return section, nil
}

// CreateFields persists a batch of fields for one section and wires
// their trigger edges. The whole batch is validated first: input types
// must be known, trigger targets must exist within the batch or the
// section, and trigger chains must be acyclic. Any violation aborts the
// batch with a SchemaIntegrityError.
func (s *SchemaService) CreateFields(ctx context.Context, sectionID uuid.UUID, fields []*models.Field) error {
	existing, err := s.sections.ListFieldsBySection(ctx, sectionID)
	if err != nil {
		return err
	}

	all := make([]*models.Field, 0, len(existing)+len(fields))
	all = append(all, existing...)
	for _, f := range fields {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		f.SectionID = sectionID
		if !f.InputType.IsValid() {
			return apperrors.SchemaIntegrity("field %q has unknown input type %q", f.Name, f.InputType)
		}
		if f.InputType.IsSelect() && len(f.Options) == 0 {
			return apperrors.SchemaIntegrity("field %q needs at least one option", f.Name)
		}
		all = append(all, f)
	}

	if err := ValidateTriggerChains(all); err != nil {
		return err
	}

	for _, f := range fields {
		if err := s.sections.CreateField(ctx, f); err != nil {
			return err
		}
	}
	s.logger.Info("Created fields", zap.String("section_id", sectionID.String()), zap.Int("count", len(fields)))
	return nil
}

// ValidateTriggerChains rejects dangling trigger targets, self triggers
// and cycles among the given fields.
func ValidateTriggerChains(fields []*models.Field) error {
	byID := make(map[uuid.UUID]*models.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}

	for _, f := range fields {
		if (f.TriggerCause == nil) != (f.TriggerTargetID == nil) {
			return apperrors.SchemaIntegrity("field %q has a partial trigger edge", f.Name)
		}
		if !f.HasTrigger() {
			continue
		}
		if _, ok := byID[*f.TriggerTargetID]; !ok {
			return apperrors.SchemaIntegrity("field %q triggers unknown field %s", f.Name, *f.TriggerTargetID)
		}

		visited := map[uuid.UUID]bool{}
		for cur := f; cur.HasTrigger(); {
			if visited[cur.ID] {
				return apperrors.SchemaIntegrity("trigger cycle involving field %q", cur.Name)
			}
			visited[cur.ID] = true
			next, ok := byID[*cur.TriggerTargetID]
			if !ok {
				break
			}
			cur = next
		}
	}
	return nil
}

// VisibleFields computes which fields are shown (and validated) given
// the current values. A field is hidden when flagged hidden, or when it
// is some field's trigger target and no visible parent currently
// activates it. Evaluation walks trigger edges from visible parents
// with a visited set, so a malformed cyclic chain cannot loop.
func VisibleFields(fields []*models.Field, current map[uuid.UUID]json.RawMessage) map[uuid.UUID]bool {
	byID := make(map[uuid.UUID]*models.Field, len(fields))
	targets := make(map[uuid.UUID]bool)
	for _, f := range fields {
		byID[f.ID] = f
		if f.HasTrigger() {
			targets[*f.TriggerTargetID] = true
		}
	}

	visible := make(map[uuid.UUID]bool, len(fields))
	var queue []*models.Field
	for _, f := range fields {
		if f.Hidden || targets[f.ID] {
			visible[f.ID] = false
			continue
		}
		visible[f.ID] = true
		queue = append(queue, f)
	}

	visited := make(map[uuid.UUID]bool)
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if visited[f.ID] {
			continue
		}
		visited[f.ID] = true

		if !f.HasTrigger() || !f.IsTriggered(current[f.ID]) {
			continue
		}
		target, ok := byID[*f.TriggerTargetID]
		if !ok || target.Hidden {
			continue
		}
		if !visible[target.ID] {
			visible[target.ID] = true
			queue = append(queue, target)
		}
	}
	return visible
}
