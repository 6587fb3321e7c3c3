// Package decompose splits a resolved utterance into dependency-annotated
// subtasks ready for planning. The LLM proposes structure; invariants are
// enforced here, and a deterministic fallback covers unparseable replies.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Program is the decomposition LLM program. prompt.LuciaPredict satisfies it.
type Program interface {
	Process(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Decomposer implements ports.Decomposer
type Decomposer struct {
	cfg     config.DecomposeConfig
	program Program
	intents ports.IntentRegistry
	tools   ports.ToolRegistry
	ids     ports.IDGenerator
	logger  *slog.Logger
}

func NewDecomposer(cfg config.DecomposeConfig, program Program, intents ports.IntentRegistry, tools ports.ToolRegistry, ids ports.IDGenerator, logger *slog.Logger) *Decomposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{
		cfg:     cfg,
		program: program,
		intents: intents,
		tools:   tools,
		ids:     ids,
		logger:  logger,
	}
}

// Decompose produces the subtask list for one resolved turn. An
// informational intent (no tool action) decomposes to nothing.
func (d *Decomposer) Decompose(ctx context.Context, input *ports.DecomposeInput) ([]*models.Subtask, error) {
	intent, ok := d.intents.Get(input.IntentID)
	if !ok {
		return nil, fmt.Errorf("decompose %q: %w", input.IntentID, domain.ErrIntentNotFound)
	}

	entities := mergeEntities(input.Entities, input.Slots)

	if d.cfg.UseLLM && d.program != nil {
		subtasks, err := d.llmDecompose(ctx, input, entities)
		if err == nil && len(subtasks) > 0 {
			return subtasks, nil
		}
		if err != nil {
			if isStructural(err) {
				return nil, err
			}
			d.logger.Warn("llm decomposition unusable, falling back",
				"intent", input.IntentID, "error", err)
		}
	}

	return d.fallback(intent, entities), nil
}

// llmDecompose runs the decomposition program and enforces the plan
// invariants on its output.
func (d *Decomposer) llmDecompose(ctx context.Context, input *ports.DecomposeInput, entities map[string]any) ([]*models.Subtask, error) {
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return nil, err
	}

	outputs, err := d.program.Process(ctx, map[string]any{
		"utterance":         input.Utterance,
		"intent":            input.IntentID,
		"entities":          string(entitiesJSON),
		"available_actions": strings.Join(d.actionNames(), ", "),
	})
	if err != nil {
		return nil, err
	}

	payload, _ := outputs["subtasks_json"].(string)
	raw, err := parseSubtasks(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) > d.cfg.MaxSubtasks {
		return nil, &domain.ValidationError{
			Field:   "subtasks",
			Message: fmt.Sprintf("decomposition produced %d subtasks, limit is %d", len(raw), d.cfg.MaxSubtasks),
		}
	}

	raw = d.dropUnknownActions(raw, input.IntentID)
	if len(raw) == 0 {
		return nil, nil
	}
	if err := checkReferences(raw); err != nil {
		return nil, err
	}
	if err := checkAcyclic(raw); err != nil {
		return nil, err
	}
	applyConnectorHint(raw, input.Utterance)

	return d.materialize(raw, entities), nil
}

// dropUnknownActions removes subtasks whose action is not in the tool
// registry, cascading to anything that depended on them.
func (d *Decomposer) dropUnknownActions(raw []rawSubtask, intentID string) []rawSubtask {
	dropped := make(map[string]bool)
	kept := raw[:0]
	for _, st := range raw {
		if _, ok := d.tools.Action(st.Action); !ok {
			d.logger.Warn("dropping subtask with unknown action",
				"intent", intentID, "action", st.Action)
			dropped[st.ID] = true
			continue
		}
		kept = append(kept, st)
	}
	if len(dropped) == 0 {
		return kept
	}
	for changed := true; changed; {
		changed = false
		next := kept[:0]
		for _, st := range kept {
			cascade := false
			for _, dep := range st.DependsOn {
				if dropped[dep] {
					cascade = true
					break
				}
			}
			if cascade {
				d.logger.Warn("dropping subtask whose dependency was dropped",
					"intent", intentID, "action", st.Action)
				dropped[st.ID] = true
				changed = true
				continue
			}
			next = append(next, st)
		}
		kept = next
	}
	return kept
}

// checkReferences verifies every dependency names a sibling subtask
func checkReferences(raw []rawSubtask) error {
	present := make(map[string]bool, len(raw))
	for _, st := range raw {
		present[st.ID] = true
	}
	for _, st := range raw {
		for _, dep := range st.DependsOn {
			if !present[dep] {
				return &domain.DependencyError{SubtaskID: st.ID, Err: domain.ErrDanglingDependency}
			}
		}
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the raw graph; leftovers form a
// cycle and are reported by id.
func checkAcyclic(raw []rawSubtask) error {
	indegree := make(map[string]int, len(raw))
	dependents := make(map[string][]string)
	for _, st := range raw {
		indegree[st.ID] += 0
		for _, dep := range st.DependsOn {
			indegree[st.ID]++
			dependents[dep] = append(dependents[dep], st.ID)
		}
	}

	queue := make([]string, 0, len(raw))
	for _, st := range raw {
		if indegree[st.ID] == 0 {
			queue = append(queue, st.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited == len(raw) {
		return nil
	}

	var cycle []string
	for _, st := range raw {
		if indegree[st.ID] > 0 {
			cycle = append(cycle, st.ID)
		}
	}
	return &domain.DependencyError{Cycle: cycle, Err: domain.ErrDependencyCycle}
}

// applyConnectorHint wires ordering into a flat multi-subtask list when
// the utterance's connector implies one and the model declared none.
func applyConnectorHint(raw []rawSubtask, utterance string) {
	if len(raw) < 2 {
		return
	}
	for _, st := range raw {
		if len(st.DependsOn) > 0 {
			return
		}
	}
	switch detectConnector(utterance) {
	case connectorSequential:
		for i := 1; i < len(raw); i++ {
			raw[i].DependsOn = []string{raw[i-1].ID}
		}
	case connectorConditional:
		// The condition's subject comes first; everything else waits on it.
		for i := 1; i < len(raw); i++ {
			raw[i].DependsOn = []string{raw[0].ID}
		}
	}
}

// materialize converts raw subtasks to domain subtasks with real ids
func (d *Decomposer) materialize(raw []rawSubtask, base map[string]any) []*models.Subtask {
	realID := make(map[string]string, len(raw))
	for _, st := range raw {
		realID[st.ID] = d.ids.SubtaskID()
	}

	out := make([]*models.Subtask, 0, len(raw))
	for _, st := range raw {
		entities := st.Entities
		if len(entities) == 0 {
			entities = base
		}
		subtask := models.NewSubtask(realID[st.ID], st.Action, entities)
		subtask.Priority = st.Priority
		subtask.MaxRetries = d.cfg.DefaultMaxRetries
		for _, dep := range st.DependsOn {
			subtask.Dependencies = append(subtask.Dependencies, realID[dep])
		}
		out = append(out, subtask)
	}
	return out
}

// fallback is the deterministic single-subtask plan used when the LLM
// yields nothing usable.
func (d *Decomposer) fallback(intent *models.IntentDefinition, entities map[string]any) []*models.Subtask {
	if intent.IsInformational() {
		return nil
	}
	subtask := models.NewSubtask(d.ids.SubtaskID(), intent.ToolAction, entities)
	subtask.MaxRetries = d.cfg.DefaultMaxRetries
	return []*models.Subtask{subtask}
}

// mergeEntities folds jury entities and confirmed slots into one map;
// validated slot values win on conflict.
func mergeEntities(entities, slots map[string]string) map[string]any {
	out := make(map[string]any, len(entities)+len(slots))
	for k, v := range entities {
		out[k] = v
	}
	for k, v := range slots {
		out[k] = v
	}
	return out
}

func (d *Decomposer) actionNames() []string {
	actions := d.tools.Actions()
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Name)
	}
	return names
}

// isStructural reports whether an LLM decomposition error is a plan
// invariant violation rather than a parse or transport problem. Structural
// errors surface; the rest degrade to the fallback.
func isStructural(err error) bool {
	var depErr *domain.DependencyError
	var valErr *domain.ValidationError
	return errors.As(err, &depErr) || errors.As(err, &valErr)
}
