package orchestrate

import (
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// BuildPlan partitions subtasks into dependency levels with Kahn's
// algorithm. Every dependency of a level-k subtask lives strictly below k,
// so a level is safe to run in parallel. Cycles and dangling references
// are fatal.
func (o *Orchestrator) BuildPlan(subtasks []*models.Subtask) (*models.ExecutionPlan, error) {
	if len(subtasks) == 0 {
		return nil, domain.ErrEmptyPlan
	}

	byID := make(map[string]*models.Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}
	for _, st := range subtasks {
		if _, ok := o.tools.Action(st.Action); !ok {
			return nil, &domain.DependencyError{SubtaskID: st.ID, Err: domain.ErrUnknownAction}
		}
		for _, dep := range st.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, &domain.DependencyError{SubtaskID: st.ID, Err: domain.ErrDanglingDependency}
			}
		}
	}

	indegree := make(map[string]int, len(subtasks))
	dependents := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		indegree[st.ID] = len(st.Dependencies)
		for _, dep := range st.Dependencies {
			dependents[dep] = append(dependents[dep], st.ID)
		}
	}

	// Current frontier: everything with no unsatisfied dependency.
	frontier := make([]*models.Subtask, 0, len(subtasks))
	for _, st := range subtasks {
		if indegree[st.ID] == 0 {
			frontier = append(frontier, st)
		}
	}

	plan := &models.ExecutionPlan{}
	placed := 0
	for len(frontier) > 0 {
		level := frontier
		plan.Levels = append(plan.Levels, level)
		placed += len(level)

		frontier = nil
		for _, st := range level {
			for _, depID := range dependents[st.ID] {
				indegree[depID]--
				if indegree[depID] == 0 {
					frontier = append(frontier, byID[depID])
				}
			}
		}
	}

	if placed != len(subtasks) {
		var cycle []string
		for _, st := range subtasks {
			if indegree[st.ID] > 0 {
				cycle = append(cycle, st.ID)
			}
		}
		return nil, &domain.DependencyError{Cycle: cycle, Err: domain.ErrDependencyCycle}
	}
	return plan, nil
}

// widestLevel is the plan's parallelism ceiling: a chain-shaped plan
// (critical path == total) never needs more than one worker.
func widestLevel(plan *models.ExecutionPlan) int {
	widest := 0
	for _, level := range plan.Levels {
		if len(level) > widest {
			widest = len(level)
		}
	}
	return widest
}
