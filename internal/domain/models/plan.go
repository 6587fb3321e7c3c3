package models

// ExecutionPlan arranges subtasks into dependency levels. Every dependency
// of a subtask in level k sits in some level strictly below k, so each
// level is a batch safe to run in parallel.
type ExecutionPlan struct {
	Levels [][]*Subtask `json:"levels"`
}

// TotalSubtasks counts all subtasks across levels
func (p *ExecutionPlan) TotalSubtasks() int {
	total := 0
	for _, level := range p.Levels {
		total += len(level)
	}
	return total
}

// LevelIDs returns the plan shape as subtask ids only
func (p *ExecutionPlan) LevelIDs() [][]string {
	ids := make([][]string, len(p.Levels))
	for i, level := range p.Levels {
		ids[i] = make([]string, len(level))
		for j, st := range level {
			ids[i][j] = st.ID
		}
	}
	return ids
}

// AllSubtasks flattens the plan in level order
func (p *ExecutionPlan) AllSubtasks() []*Subtask {
	all := make([]*Subtask, 0, p.TotalSubtasks())
	for _, level := range p.Levels {
		all = append(all, level...)
	}
	return all
}
