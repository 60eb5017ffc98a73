package services

import (
	"context"
	"fmt"

	"github.com/labbook-edu/labbook-engine/pkg/models"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
)

// accessResolver turns a Caller into the per-record CallerContext that
// permission resolution needs: ownership, group membership and project
// instructor status.
type accessResolver struct {
	projects repositories.ProjectRepository
}

func (a *accessResolver) contextFor(ctx context.Context, record *models.Record, caller Caller) (CallerContext, error) {
	cc := CallerContext{
		UserID:  caller.UserID,
		IsOwner: record.OwnedBy(caller.UserID),
	}

	if record.ProjectGroupID != nil {
		member, err := a.projects.IsMember(ctx, *record.ProjectGroupID, caller.UserID)
		if err != nil {
			return CallerContext{}, fmt.Errorf("failed to resolve group membership: %w", err)
		}
		cc.IsGroupMember = member
	}

	// The instructor role only counts on projects where the user is on
	// the instructor roster.
	if caller.Instructor {
		instructor, err := a.projects.IsInstructor(ctx, record.ProjectID, caller.UserID)
		if err != nil {
			return CallerContext{}, fmt.Errorf("failed to resolve instructor status: %w", err)
		}
		cc.IsInstructor = instructor
	}

	return cc, nil
}
