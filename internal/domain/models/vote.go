package models

import (
	"sort"
	"strings"
	"time"
)

// SubtaskProposal is a juror's structured suggestion for one unit of work
// behind its vote. DependsOn names the actions of other proposals in the
// same ballot.
type SubtaskProposal struct {
	Action    string            `json:"action"`
	Entities  map[string]string `json:"entities,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
}

// Key is the proposal's de-duplication identity: the same action applied
// to the same entity set is the same unit of work.
func (p SubtaskProposal) Key() string {
	keys := make([]string, 0, len(p.Entities))
	for k := range p.Entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(p.Action)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Entities[k])
	}
	return b.String()
}

// Vote is one juror's ballot for an utterance. Rankings and Approved are
// only present for ballot-based consensus algorithms (Borda, Condorcet,
// approval); plain votes carry a single intent with a confidence.
type Vote struct {
	JurorID    string            `json:"juror_id"`
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
	Subtasks   []SubtaskProposal `json:"subtasks,omitempty"`
	Rankings   []string          `json:"rankings,omitempty"`
	Approved   []string          `json:"approved,omitempty"`
	RawText    string            `json:"raw_text,omitempty"`
	Weight     float64           `json:"weight"`
	Timestamp  time.Time         `json:"timestamp"`
}

func NewVote(jurorID, intent string, confidence, weight float64) *Vote {
	return &Vote{
		JurorID:    jurorID,
		Intent:     intent,
		Confidence: confidence,
		Weight:     weight,
		Timestamp:  time.Now(),
	}
}

// IsValid reports whether the ballot can be tallied
func (v *Vote) IsValid() bool {
	return v != nil && v.Intent != "" && v.Confidence >= 0 && v.Confidence <= 1
}

// WeightedScore is the vote's contribution under weighted tallies
func (v *Vote) WeightedScore() float64 {
	return v.Confidence * v.Weight
}
