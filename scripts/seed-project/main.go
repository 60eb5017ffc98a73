// Command seed-project loads a YAML project definition (groups, members
// and per-kind form definitions with trigger edges) into the database.
// Trigger chains are validated before anything is written; a cyclic or
// dangling chain aborts the whole load.
//
// Usage: seed-project -file fixtures/demo-project.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/labbook-edu/labbook-engine/pkg/config"
	"github.com/labbook-edu/labbook-engine/pkg/database"
	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
	"github.com/labbook-edu/labbook-engine/pkg/services"
)

type fixture struct {
	Project     string         `yaml:"project"`
	Instructors []string       `yaml:"instructors"`
	Groups      []groupFixture `yaml:"groups"`
	Forms       []formFixture  `yaml:"forms"`
}

type groupFixture struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type formFixture struct {
	Kind     string           `yaml:"kind"`
	Sections []sectionFixture `yaml:"sections"`
}

type sectionFixture struct {
	Name   string         `yaml:"name"`
	Fields []fieldFixture `yaml:"fields"`
}

type fieldFixture struct {
	Name      string          `yaml:"name"`
	Input     string          `yaml:"input"`
	Mandatory bool            `yaml:"mandatory"`
	Hidden    bool            `yaml:"hidden"`
	Default   any             `yaml:"default"`
	Options   []string        `yaml:"options"`
	Trigger   *triggerFixture `yaml:"trigger"`
}

type triggerFixture struct {
	Cause string `yaml:"cause"`
	// Target names another field in the same section.
	Target string `yaml:"target"`
}

func main() {
	file := flag.String("file", "", "path to the project fixture YAML")
	flag.Parse()
	if *file == "" {
		log.Fatal("missing -file")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read fixture: %v", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		log.Fatalf("Failed to parse fixture: %v", err)
	}
	if fx.Project == "" {
		log.Fatal("fixture has no project name")
	}

	cfg, err := config.Load("seed")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: 5,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	projects := repositories.NewProjectRepository(db)
	sections := repositories.NewSectionRepository(db)
	schema := services.NewSchemaService(sections, logger)

	err = db.InTx(ctx, func(ctx context.Context) error {
		return seed(ctx, &fx, projects, schema, logger)
	})
	if err != nil {
		logger.Fatal("Seed failed", zap.Error(err))
	}
	logger.Info("Seeded project", zap.String("project", fx.Project))
}

func seed(
	ctx context.Context,
	fx *fixture,
	projects repositories.ProjectRepository,
	schema *services.SchemaService,
	logger *zap.Logger,
) error {
	project := &models.Project{Name: fx.Project}
	if err := projects.CreateProject(ctx, project); err != nil {
		return err
	}
	for _, userID := range fx.Instructors {
		if err := projects.AddInstructor(ctx, project.ID, userID); err != nil {
			return err
		}
	}
	for _, g := range fx.Groups {
		group := &models.ProjectGroup{ProjectID: project.ID, Name: g.Name}
		if err := projects.CreateGroup(ctx, group); err != nil {
			return err
		}
		for _, userID := range g.Members {
			if err := projects.AddMember(ctx, group.ID, userID); err != nil {
				return err
			}
		}
	}

	for _, form := range fx.Forms {
		kind := models.RecordKind(form.Kind)
		if !kind.IsValid() {
			return fmt.Errorf("unknown record kind %q", form.Kind)
		}
		for i, sf := range form.Sections {
			section, err := schema.CreateSection(ctx, project.ID, kind, sf.Name, i+1)
			if err != nil {
				return err
			}
			fields, err := buildFields(sf.Fields)
			if err != nil {
				return fmt.Errorf("section %q: %w", sf.Name, err)
			}
			if err := schema.CreateFields(ctx, section.ID, fields); err != nil {
				return fmt.Errorf("section %q: %w", sf.Name, err)
			}
			logger.Info("Seeded section",
				zap.String("kind", form.Kind),
				zap.String("section", sf.Name),
				zap.Int("fields", len(fields)))
		}
	}
	return nil
}

// buildFields converts fixture fields into models, resolving trigger
// targets by name within the section.
func buildFields(fixtures []fieldFixture) ([]*models.Field, error) {
	fields := make([]*models.Field, 0, len(fixtures))
	byName := make(map[string]*models.Field, len(fixtures))

	for i, ff := range fixtures {
		f := &models.Field{
			Name:      ff.Name,
			InputType: models.InputType(ff.Input),
			SortOrder: i + 1,
			Mandatory: ff.Mandatory,
			Hidden:    ff.Hidden,
		}
		if ff.Default != nil {
			raw, err := json.Marshal(ff.Default)
			if err != nil {
				return nil, fmt.Errorf("field %q: bad default: %w", ff.Name, err)
			}
			f.DefaultResponse = raw
		}
		for _, name := range ff.Options {
			f.Options = append(f.Options, models.SelectFieldOption{Name: name})
		}
		if _, dup := byName[ff.Name]; dup {
			return nil, fmt.Errorf("duplicate field name %q", ff.Name)
		}
		byName[ff.Name] = f
		fields = append(fields, f)
	}

	for i, ff := range fixtures {
		if ff.Trigger == nil {
			continue
		}
		target, ok := byName[ff.Trigger.Target]
		if !ok {
			return nil, fmt.Errorf("field %q triggers unknown field %q", ff.Name, ff.Trigger.Target)
		}
		if target.ID == uuid.Nil {
			target.ID = uuid.New()
		}
		cause := ff.Trigger.Cause
		fields[i].TriggerCause = &cause
		fields[i].TriggerTargetID = &target.ID
	}
	return fields, nil
}
