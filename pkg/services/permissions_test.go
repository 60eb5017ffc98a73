package services

import (
	"testing"

	"github.com/google/uuid"

	"github.com/labbook-edu/labbook-engine/pkg/models"
)

func TestResolveAtSeededStages(t *testing.T) {
	graph, stages := seedGraph()
	svc := NewPermissionService(graph)

	owner := CallerContext{UserID: "alice", IsOwner: true}
	member := CallerContext{UserID: "bob", IsGroupMember: true}
	instructor := CallerContext{UserID: "dr-grey", IsInstructor: true}
	stranger := CallerContext{UserID: "mallory"}

	tests := []struct {
		name   string
		stage  string
		caller CallerContext
		want   []models.PermissionKey
	}{
		{"owner edits own draft", "plan/" + models.StageDraft, owner, []models.PermissionKey{models.OwnerCanEdit}},
		{"group member edits draft", "plan/" + models.StageDraft, member, []models.PermissionKey{models.OwnerCanEdit}},
		{"instructor has nothing at draft", "plan/" + models.StageDraft, instructor, nil},
		{"owner locked out in review", "plan/" + models.StageInReview, owner, nil},
		{"instructor views and comments in review", "plan/" + models.StageInReview, instructor,
			[]models.PermissionKey{models.InstructorCanComment, models.InstructorCanView}},
		{"owner edits commented version awaiting changes", "plan/" + models.StageAwaitingChanges, owner,
			[]models.PermissionKey{models.OwnerCanEditCommented}},
		{"instructor views approved", "plan/" + models.StageApproved, instructor,
			[]models.PermissionKey{models.InstructorCanView}},
		{"owner edits running note", "note/" + models.StageInProgress, owner,
			[]models.PermissionKey{models.OwnerCanEdit}},
		{"owner locked out of locked note", "note/" + models.StageLocked, owner, nil},
		{"instructor still views locked note", "note/" + models.StageLocked, instructor,
			[]models.PermissionKey{models.InstructorCanView}},
		{"stranger holds nothing anywhere", "plan/" + models.StageInReview, stranger, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, ok := stages[tt.stage]
			if !ok {
				t.Fatalf("unknown fixture stage %q", tt.stage)
			}
			got := svc.Resolve(stage, tt.caller).Keys()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected keys %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Expected keys %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestPermissionSetCanEdit(t *testing.T) {
	set := PermissionSet{models.OwnerCanEditCommented: {}}
	if !set.CanEdit() {
		t.Error("Expected commented edit key to grant editing")
	}
	set = PermissionSet{models.InstructorCanComment: {}}
	if set.CanEdit() {
		t.Error("Expected instructor keys not to grant editing")
	}
}

func TestResolvePermissionsAudience(t *testing.T) {
	typeID := seededTypeID(t)
	rows := []*models.StagePermission{
		{TypeID: typeID, MinSortOrder: 1, MaxSortOrder: 99, Key: models.OwnerCanEdit},
		{TypeID: typeID, MinSortOrder: 1, MaxSortOrder: 99, Key: models.InstructorCanView},
	}

	both := ResolvePermissions(rows, CallerContext{IsOwner: true, IsInstructor: true})
	if !both.Has(models.OwnerCanEdit) || !both.Has(models.InstructorCanView) {
		t.Errorf("Expected an owning instructor to hold both keys, got %v", both.Keys())
	}

	neither := ResolvePermissions(rows, CallerContext{})
	if len(neither) != 0 {
		t.Errorf("Expected a stranger to hold no keys, got %v", neither.Keys())
	}
}

func seededTypeID(t *testing.T) uuid.UUID {
	t.Helper()
	graph, _ := seedGraph()
	typ, ok := graph.TypeByValue("plan")
	if !ok {
		t.Fatal("plan type missing from seed graph")
	}
	return typ.ID
}
