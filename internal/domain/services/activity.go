package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formaos-compliance/internal/domain/models"
)

// systemActor is recorded on activity rows written by the engine
const systemActor = "system"

// activityRecorder writes activity through the logger and falls back to a raw insert
type activityRecorder struct {
	primary  ActivityLogger
	fallback ActivityStore
	now      func() time.Time
}

func (r activityRecorder) log(ctx context.Context, orgID, action, description string, metadata map[string]any) error {
	var primaryErr error
	if r.primary != nil {
		if primaryErr = r.primary.LogActivity(ctx, orgID, action, description, metadata); primaryErr == nil {
			return nil
		}
	}
	if r.fallback == nil {
		if primaryErr != nil {
			return primaryErr
		}
		return errors.New("no activity sink configured")
	}

	err := r.fallback.InsertActivity(ctx, []models.ActivityEntry{{
		OrgID:     orgID,
		Action:    action,
		Target:    description,
		Metadata:  metadata,
		CreatedAt: r.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", errors.Join(primaryErr, err))
	}
	return nil
}
