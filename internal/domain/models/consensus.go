package models

// AgreementLevel characterises how strongly the jury converged
type AgreementLevel string

const (
	AgreementUnanimous AgreementLevel = "unanimous"
	AgreementMajority  AgreementLevel = "majority"
	AgreementPlurality AgreementLevel = "plurality"
	AgreementSplit     AgreementLevel = "split"
	AgreementFailed    AgreementLevel = "failed"
)

// Consensus is the published outcome of a jury round. Once attached to a
// turn it is immutable.
type Consensus struct {
	Intent         string            `json:"intent"`
	Confidence     float64           `json:"confidence"`
	Agreement      AgreementLevel    `json:"agreement"`
	Method         string            `json:"method"`
	MergedEntities map[string]string `json:"merged_entities,omitempty"`
	MergedSubtasks []SubtaskProposal `json:"merged_subtasks,omitempty"`
	Rationale      string            `json:"rationale,omitempty"`
	Rounds         int               `json:"rounds"`
	VotesCast      int               `json:"votes_cast"`
	VotesValid     int               `json:"votes_valid"`
}

// AgreementFor derives the agreement level from vote counts: all valid
// votes on one intent is unanimous, strictly more than half is majority,
// a unique leading intent is plurality, anything else is split.
func AgreementFor(winnerVotes, validVotes int, uniqueLeader bool) AgreementLevel {
	switch {
	case validVotes == 0:
		return AgreementFailed
	case winnerVotes == validVotes:
		return AgreementUnanimous
	case winnerVotes*2 > validVotes:
		return AgreementMajority
	case uniqueLeader:
		return AgreementPlurality
	default:
		return AgreementSplit
	}
}
