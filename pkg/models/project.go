package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is a course-level container for groups, sections and records.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectGroup is a set of students working together inside a project.
type ProjectGroup struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
