package models

import (
	"fmt"
	"sort"
)

// SlotConstraint holds optional validation metadata for one slot: regex
// extraction patterns, an allowed-value enumeration, and an ask priority.
type SlotConstraint struct {
	Patterns []string `json:"patterns,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// IntentDefinition is one declarative entry from the intent catalog
type IntentDefinition struct {
	ID                  string                    `json:"id"`
	Description         string                    `json:"description"`
	Examples            []string                  `json:"examples"`
	RequiredSlots       []string                  `json:"required_slots,omitempty"`
	OptionalSlots       []string                  `json:"optional_slots,omitempty"`
	ToolAction          string                    `json:"tool_action,omitempty"`
	ExpertDomain        string                    `json:"expert_domain,omitempty"`
	ConfidenceThreshold float64                   `json:"confidence_threshold,omitempty"`
	MaxRagExamples      int                       `json:"max_rag_examples,omitempty"`
	SlotQuestions       map[string]string         `json:"slot_questions,omitempty"`
	SlotConstraints     map[string]SlotConstraint `json:"slot_constraints,omitempty"`
}

// Validate checks the intrinsic invariants of the definition. Cross-registry
// checks (tool_action resolution) happen at registry load.
func (d *IntentDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("intent id is required")
	}
	if len(d.Examples) == 0 {
		return fmt.Errorf("intent %s: at least one example is required", d.ID)
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return fmt.Errorf("intent %s: confidence_threshold must be in [0,1]", d.ID)
	}
	required := make(map[string]bool, len(d.RequiredSlots))
	for _, slot := range d.RequiredSlots {
		if required[slot] {
			return fmt.Errorf("intent %s: duplicate required slot %q", d.ID, slot)
		}
		required[slot] = true
	}
	for _, slot := range d.OptionalSlots {
		if required[slot] {
			return fmt.Errorf("intent %s: slot %q is both required and optional", d.ID, slot)
		}
	}
	return nil
}

// IsInformational reports whether the intent maps to no tool action
func (d *IntentDefinition) IsInformational() bool {
	return d.ToolAction == ""
}

// MissingSlots returns the required slots absent from filled, ordered by
// descending priority weight and then by declaration order.
func (d *IntentDefinition) MissingSlots(filled map[string]string) []string {
	missing := make([]string, 0)
	for _, slot := range d.RequiredSlots {
		if _, ok := filled[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	if len(missing) < 2 {
		return missing
	}
	order := make(map[string]int, len(d.RequiredSlots))
	for i, slot := range d.RequiredSlots {
		order[slot] = i
	}
	sort.SliceStable(missing, func(i, j int) bool {
		pi := d.SlotConstraints[missing[i]].Priority
		pj := d.SlotConstraints[missing[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return order[missing[i]] < order[missing[j]]
	})
	return missing
}

// QuestionFor returns the ask template for a slot, or a generic fallback
func (d *IntentDefinition) QuestionFor(slot string) string {
	if q, ok := d.SlotQuestions[slot]; ok && q != "" {
		return q
	}
	return fmt.Sprintf("¿Puedes indicarme el valor de %s?", slot)
}

// AllSlots returns required followed by optional slot names
func (d *IntentDefinition) AllSlots() []string {
	all := make([]string, 0, len(d.RequiredSlots)+len(d.OptionalSlots))
	all = append(all, d.RequiredSlots...)
	all = append(all, d.OptionalSlots...)
	return all
}

// CatalogDefaults are the global knobs of the intent registry file
type CatalogDefaults struct {
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	MaxRagExamples       int     `json:"max_rag_examples"`
	FallbackIntent       string  `json:"fallback_intent,omitempty"`
	UnknownIntentMessage string  `json:"unknown_intent_message,omitempty"`
	HotReloadSeconds     int     `json:"hot_reload_seconds,omitempty"`
}
