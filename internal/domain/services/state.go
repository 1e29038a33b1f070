package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

// controlState is the evidence and task state of a set of controls, joined in memory
type controlState struct {
	evidence []models.ControlEvidence
	tasks    []models.Task

	evidenceByControl map[uuid.UUID][]models.ControlEvidence
	tasksByControl    map[uuid.UUID][]models.Task
	entityByControl   map[uuid.UUID]*string
}

func emptyControlState() *controlState {
	return &controlState{
		evidenceByControl: map[uuid.UUID][]models.ControlEvidence{},
		tasksByControl:    map[uuid.UUID][]models.Task{},
		entityByControl:   map[uuid.UUID]*string{},
	}
}

func (s *controlState) input(control models.ComplianceControl, now time.Time) ControlInput {
	return ControlInput{
		Control:      control,
		Evidence:     s.evidenceByControl[control.ID],
		Tasks:        s.tasksByControl[control.ID],
		TaskEntityID: s.entityByControl[control.ID],
		Now:          now,
	}
}

// loadControlState batch-loads evidence and task links concurrently, then the linked tasks.
// Without strict, a failed load degrades to an empty result.
func loadControlState(ctx context.Context, store EvidenceStore, orgID string, controlIDs []uuid.UUID, strict bool, log *logger.Logger) (*controlState, error) {
	state := emptyControlState()
	if len(controlIDs) == 0 {
		return state, nil
	}

	var links []models.ControlTask

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := store.ListControlEvidence(gctx, orgID, controlIDs)
		if err != nil {
			if strict {
				return fmt.Errorf("%w: control evidence: %v", ErrSnapshotLoad, err)
			}
			log.Warn().Err(err).Msg("failed to load control evidence")
			return nil
		}
		state.evidence = rows
		return nil
	})
	g.Go(func() error {
		rows, err := store.ListControlTasks(gctx, orgID, controlIDs)
		if err != nil {
			if strict {
				return fmt.Errorf("%w: control tasks: %v", ErrSnapshotLoad, err)
			}
			log.Warn().Err(err).Msg("failed to load control tasks")
			return nil
		}
		links = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	taskIDs := uniqueTaskIDs(links)
	if len(taskIDs) > 0 {
		tasks, err := store.ListTasksByIDs(ctx, orgID, taskIDs)
		if err != nil {
			if strict {
				return nil, fmt.Errorf("%w: tasks: %v", ErrSnapshotLoad, err)
			}
			log.Warn().Err(err).Msg("failed to load tasks")
		}
		state.tasks = tasks
	}

	for _, e := range state.evidence {
		state.evidenceByControl[e.ControlID] = append(state.evidenceByControl[e.ControlID], e)
	}

	taskByID := make(map[uuid.UUID]models.Task, len(state.tasks))
	for _, t := range state.tasks {
		taskByID[t.ID] = t
	}
	for _, link := range links {
		task, ok := taskByID[link.TaskID]
		if !ok {
			continue
		}
		state.tasksByControl[link.ControlID] = append(state.tasksByControl[link.ControlID], task)
		if state.entityByControl[link.ControlID] == nil && link.EntityID != nil && *link.EntityID != "" {
			state.entityByControl[link.ControlID] = link.EntityID
		}
	}

	return state, nil
}

func uniqueTaskIDs(links []models.ControlTask) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(links))
	var ids []uuid.UUID
	for _, l := range links {
		if l.TaskID == uuid.Nil || seen[l.TaskID] {
			continue
		}
		seen[l.TaskID] = true
		ids = append(ids, l.TaskID)
	}
	return ids
}

func controlIDsOf(controls []models.ComplianceControl) []uuid.UUID {
	ids := make([]uuid.UUID, len(controls))
	for i, c := range controls {
		ids[i] = c.ID
	}
	return ids
}
