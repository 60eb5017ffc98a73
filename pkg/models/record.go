package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordKind identifies which workflow a record moves through. The kind
// string doubles as the stage type value and the section type name.
type RecordKind string

const (
	RecordKindLiteratureReview RecordKind = "literature_review"
	RecordKindPlan             RecordKind = "plan"
	RecordKindNote             RecordKind = "note"
	RecordKindReport           RecordKind = "report"
	RecordKindProjectGroup     RecordKind = "project_group"
)

// ValidRecordKinds lists every kind the engine accepts.
var ValidRecordKinds = []RecordKind{
	RecordKindLiteratureReview,
	RecordKindPlan,
	RecordKindNote,
	RecordKindReport,
	RecordKindProjectGroup,
}

// IsValid checks whether the kind is known.
func (k RecordKind) IsValid() bool {
	for _, v := range ValidRecordKinds {
		if k == v {
			return true
		}
	}
	return false
}

// StageTypeValue returns the stage type value for records of this kind.
func (k RecordKind) StageTypeValue() string {
	return string(k)
}

// SectionTypeName returns the section type name for records of this kind.
func (k RecordKind) SectionTypeName() string {
	return string(k)
}

// GroupScoped reports whether records of this kind belong to a project
// group rather than a single owner.
func (k RecordKind) GroupScoped() bool {
	return k == RecordKindProjectGroup
}

// Record is one student (or group) document moving through its workflow.
// StageID is the record's current stage; all stage changes go through the
// compare-and-swap in RecordRepository.UpdateStage.
type Record struct {
	ID             uuid.UUID  `json:"id"`
	Kind           RecordKind `json:"kind"`
	ProjectID      uuid.UUID  `json:"project_id"`
	ProjectGroupID *uuid.UUID `json:"project_group_id,omitempty"`
	OwnerID        *string    `json:"owner_id,omitempty"`
	Title          string     `json:"title"`
	StageID        uuid.UUID  `json:"stage_id"`
	// NoteID links a plan to the lab note created alongside it.
	NoteID *uuid.UUID `json:"note_id,omitempty"`
	// FeedbackRequested is set once a note has been through a feedback
	// round; it picks the unlock target for locked notes.
	FeedbackRequested bool       `json:"feedback_requested"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// OwnedBy reports whether the given user is the record's owner.
func (r *Record) OwnedBy(userID string) bool {
	return r.OwnerID != nil && *r.OwnerID == userID
}
