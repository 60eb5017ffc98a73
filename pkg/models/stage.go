package models

import "github.com/google/uuid"

// Stage display values. The machine value and display name are the same
// string in the authored stage data.
const (
	StageDraft                  = "Draft"
	StageInReview               = "In Review"
	StageAwaitingChanges        = "Awaiting Changes"
	StageApproved               = "Approved"
	StageInProgress             = "In Progress"
	StageFeedbackRequested      = "Feedback Requested"
	StageInProgressPostFeedback = "In Progress (Post Feedback)"
	StageLocked                 = "Locked"
	StageSubmitted              = "Submitted"
	StageOnGoing                = "On Going"
	StageCompleted              = "Completed"
)

// StageType groups the stages of one workflow (plan, note, report,
// literature review, project group).
type StageType struct {
	ID    uuid.UUID `json:"id"`
	Value string    `json:"value"`
}

// Stage is a node in a workflow's stage graph. NextStageID is an optional
// default-successor hint used for display ordering; legal movement is
// defined exclusively by StageTransition rows.
type Stage struct {
	ID          uuid.UUID  `json:"id"`
	TypeID      uuid.UUID  `json:"type_id"`
	Value       string     `json:"value"`
	DisplayName string     `json:"display_name"`
	SortOrder   int        `json:"sort_order"`
	NextStageID *uuid.UUID `json:"next_stage_id,omitempty"`
}

// PermissionKey names a capability granted by a stage permission row.
type PermissionKey string

const (
	OwnerCanEdit          PermissionKey = "OwnerCanEdit"
	OwnerCanEditCommented PermissionKey = "OwnerCanEditCommented"
	InstructorCanView     PermissionKey = "InstructorCanView"
	InstructorCanComment  PermissionKey = "InstructorCanComment"
)

// ValidPermissionKeys lists every key the resolver understands.
var ValidPermissionKeys = []PermissionKey{
	OwnerCanEdit,
	OwnerCanEditCommented,
	InstructorCanView,
	InstructorCanComment,
}

// IsValid checks whether the key is a known permission key.
func (k PermissionKey) IsValid() bool {
	for _, v := range ValidPermissionKeys {
		if k == v {
			return true
		}
	}
	return false
}

// IsOwnerKey reports whether the key applies to record owners and their
// group members.
func (k PermissionKey) IsOwnerKey() bool {
	return k == OwnerCanEdit || k == OwnerCanEditCommented
}

// IsInstructorKey reports whether the key applies to project instructors.
func (k PermissionKey) IsInstructorKey() bool {
	return k == InstructorCanView || k == InstructorCanComment
}

// IsEditKey reports whether the key grants field editing.
func (k PermissionKey) IsEditKey() bool {
	return k == OwnerCanEdit || k == OwnerCanEditCommented
}

// StagePermission grants Key for every stage of TypeID whose sort order
// falls inside [MinSortOrder, MaxSortOrder].
type StagePermission struct {
	ID           uuid.UUID     `json:"id"`
	TypeID       uuid.UUID     `json:"type_id"`
	MinSortOrder int           `json:"min_sort_order"`
	MaxSortOrder int           `json:"max_sort_order"`
	Key          PermissionKey `json:"key"`
}

// Covers reports whether the row applies to the given stage.
func (p *StagePermission) Covers(stage *Stage) bool {
	return p.TypeID == stage.TypeID &&
		stage.SortOrder >= p.MinSortOrder &&
		stage.SortOrder <= p.MaxSortOrder
}

// StageAction identifies a caller-requested (or system) stage movement.
type StageAction string

const (
	ActionSubmit               StageAction = "submit"
	ActionRequestChanges       StageAction = "request_changes"
	ActionCancelRequestChanges StageAction = "cancel_request_changes"
	ActionResubmit             StageAction = "resubmit"
	ActionMarkApproved         StageAction = "mark_approved"
	ActionCancelApproval       StageAction = "cancel_approval"
	ActionStart                StageAction = "start"
	ActionRequestFeedback      StageAction = "request_feedback"
	ActionCompleteFeedback     StageAction = "complete_feedback"
	ActionLock                 StageAction = "lock"
	ActionUnlock               StageAction = "unlock"
	ActionUnlockPostFeedback   StageAction = "unlock_post_feedback"
	ActionComplete             StageAction = "complete"
)

// ValidStageActions lists every action the transition tables may use.
var ValidStageActions = []StageAction{
	ActionSubmit,
	ActionRequestChanges,
	ActionCancelRequestChanges,
	ActionResubmit,
	ActionMarkApproved,
	ActionCancelApproval,
	ActionStart,
	ActionRequestFeedback,
	ActionCompleteFeedback,
	ActionLock,
	ActionUnlock,
	ActionUnlockPostFeedback,
	ActionComplete,
}

// IsValid checks whether the action is known.
func (a StageAction) IsValid() bool {
	for _, v := range ValidStageActions {
		if a == v {
			return true
		}
	}
	return false
}

// StageTransition is one row of a workflow's legal-movement table:
// applying Action to a record in FromStageID moves it to ToStageID.
// A nil RequiredKey marks a system-only transition that no caller may
// request directly.
type StageTransition struct {
	ID          uuid.UUID      `json:"id"`
	TypeID      uuid.UUID      `json:"type_id"`
	FromStageID uuid.UUID      `json:"from_stage_id"`
	Action      StageAction    `json:"action"`
	ToStageID   uuid.UUID      `json:"to_stage_id"`
	RequiredKey *PermissionKey `json:"required_key,omitempty"`
}

// SystemOnly reports whether the transition can only be fired by the
// engine itself.
func (t *StageTransition) SystemOnly() bool {
	return t.RequiredKey == nil
}
