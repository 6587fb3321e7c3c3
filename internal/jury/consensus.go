package jury

import (
	"sort"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// Algorithm turns a set of ballots into a winner. Implementations must be
// deterministic: equal inputs always elect the same intent.
type Algorithm interface {
	Name() string
	Tally(votes []*models.Vote) Tally
}

// Tally is the outcome of one consensus computation
type Tally struct {
	Intent      string
	Confidence  float64
	Agreement   models.AgreementLevel
	WinnerVotes int
	ValidVotes  int
}

// ParseAlgorithm maps a config name to an algorithm. Unknown names fall
// back to weighted majority.
func ParseAlgorithm(name string) Algorithm {
	switch name {
	case "plurality":
		return Plurality{}
	case "confidence-weighted":
		return ConfidenceWeighted{}
	case "borda-count":
		return BordaCount{}
	case "condorcet":
		return Condorcet{}
	case "approval":
		return Approval{}
	default:
		return WeightedMajority{}
	}
}

// validVotes filters ballots that can be tallied, preserving arrival order
func validVotes(votes []*models.Vote) []*models.Vote {
	valid := make([]*models.Vote, 0, len(votes))
	for _, v := range votes {
		if v.IsValid() {
			valid = append(valid, v)
		}
	}
	return valid
}

// scoreboard accumulates per-intent scores with deterministic ordering
type scoreboard struct {
	scores map[string]float64
	weight map[string]float64
	count  map[string]int
	order  []string
}

func newScoreboard() *scoreboard {
	return &scoreboard{
		scores: make(map[string]float64),
		weight: make(map[string]float64),
		count:  make(map[string]int),
	}
}

func (b *scoreboard) add(intent string, score, weight float64) {
	if _, seen := b.scores[intent]; !seen {
		b.order = append(b.order, intent)
	}
	b.scores[intent] += score
	b.weight[intent] += weight
	b.count[intent]++
}

// winner elects the top intent: highest score, then highest total weight,
// then first appearance. Reports whether the top two scores were tied.
func (b *scoreboard) winner() (intent string, tied bool) {
	if len(b.order) == 0 {
		return "", false
	}
	ranked := make([]string, len(b.order))
	copy(ranked, b.order)
	pos := make(map[string]int, len(b.order))
	for i, id := range b.order {
		pos[id] = i
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := b.scores[ranked[i]], b.scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		wi, wj := b.weight[ranked[i]], b.weight[ranked[j]]
		if wi != wj {
			return wi > wj
		}
		return pos[ranked[i]] < pos[ranked[j]]
	})
	tied = len(ranked) > 1 && b.scores[ranked[0]] == b.scores[ranked[1]]
	return ranked[0], tied
}

// supportConfidence is the weighted mean confidence of the votes backing
// the winning intent.
func supportConfidence(votes []*models.Vote, intent string) float64 {
	var sum, weights float64
	for _, v := range votes {
		if v.Intent != intent {
			continue
		}
		sum += v.Confidence * v.Weight
		weights += v.Weight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// finishTally derives the agreement level shared by every score-based
// algorithm.
func finishTally(votes []*models.Vote, intent string, tied bool, minVotes int) Tally {
	winnerVotes := 0
	for _, v := range votes {
		if v.Intent == intent {
			winnerVotes++
		}
	}
	agreement := models.AgreementFor(winnerVotes, len(votes), !tied)
	if len(votes) < minVotes {
		agreement = models.AgreementFailed
	}
	return Tally{
		Intent:      intent,
		Confidence:  supportConfidence(votes, intent),
		Agreement:   agreement,
		WinnerVotes: winnerVotes,
		ValidVotes:  len(votes),
	}
}

// WeightedMajority scores each intent by the sum of weight times
// confidence over its supporters. The default algorithm.
type WeightedMajority struct{}

func (WeightedMajority) Name() string { return "weighted-majority" }

func (WeightedMajority) Tally(votes []*models.Vote) Tally {
	valid := validVotes(votes)
	board := newScoreboard()
	for _, v := range valid {
		board.add(v.Intent, v.WeightedScore(), v.Weight)
	}
	intent, tied := board.winner()
	return finishTally(valid, intent, tied, 1)
}

// Plurality counts raw votes, ignoring weight and confidence
type Plurality struct{}

func (Plurality) Name() string { return "plurality" }

func (Plurality) Tally(votes []*models.Vote) Tally {
	valid := validVotes(votes)
	board := newScoreboard()
	for _, v := range valid {
		board.add(v.Intent, 1, v.Weight)
	}
	intent, tied := board.winner()
	return finishTally(valid, intent, tied, 1)
}

// ConfidenceWeighted scores by confidence alone, ignoring juror weight
type ConfidenceWeighted struct{}

func (ConfidenceWeighted) Name() string { return "confidence-weighted" }

func (ConfidenceWeighted) Tally(votes []*models.Vote) Tally {
	valid := validVotes(votes)
	board := newScoreboard()
	for _, v := range valid {
		board.add(v.Intent, v.Confidence, v.Weight)
	}
	intent, tied := board.winner()
	return finishTally(valid, intent, tied, 1)
}

// BordaCount awards rank-based points over each ballot's Rankings list.
// Ballots without rankings degrade to a single first choice, which makes
// the tally collapse to scaled plurality.
type BordaCount struct{}

func (BordaCount) Name() string { return "borda-count" }

func (BordaCount) Tally(votes []*models.Vote) Tally {
	valid := validVotes(votes)
	candidates := collectCandidates(valid)
	n := len(candidates)
	board := newScoreboard()
	for _, v := range valid {
		rankings := v.Rankings
		if len(rankings) == 0 {
			rankings = []string{v.Intent}
		}
		for i, intent := range rankings {
			points := float64(n - i)
			if points < 0 {
				points = 0
			}
			board.add(intent, points*v.Weight, v.Weight)
		}
	}
	intent, tied := board.winner()
	return finishTally(valid, intent, tied, 1)
}

// Condorcet elects the candidate preferred pairwise over every other.
// Unranked candidates sit jointly at the bottom of a ballot. When no such
// winner exists (a cycle), the tally falls back to weighted majority.
type Condorcet struct{}

func (Condorcet) Name() string { return "condorcet" }

func (Condorcet) Tally(votes []*models.Vote) Tally {
	valid := validVotes(votes)
	candidates := collectCandidates(valid)
	if len(candidates) == 0 {
		return finishTally(valid, "", false, 1)
	}

	rank := func(v *models.Vote, intent string) int {
		rankings := v.Rankings
		if len(rankings) == 0 {
			rankings = []string{v.Intent}
		}
		for i, id := range rankings {
			if id == intent {
				return i
			}
		}
		return len(rankings)
	}

	for _, a := range candidates {
		beatsAll := true
		for _, b := range candidates {
			if a == b {
				continue
			}
			var forA, forB float64
			for _, v := range valid {
				ra, rb := rank(v, a), rank(v, b)
				switch {
				case ra < rb:
					forA += v.Weight
				case rb < ra:
					forB += v.Weight
				}
			}
			if forA <= forB {
				beatsAll = false
				break
			}
		}
		if beatsAll {
			tally := finishTally(valid, a, false, 1)
			return tally
		}
	}

	// No pairwise winner: cycle or total tie.
	return WeightedMajority{}.Tally(votes)
}

// Approval counts how many ballots approve each intent. A ballot's own
// intent always counts as approved.
type Approval struct{}

func (Approval) Name() string { return "approval" }

func (Approval) Tally(votes []*models.Vote) Tally {
	valid := validVotes(votes)
	board := newScoreboard()
	for _, v := range valid {
		approved := map[string]bool{v.Intent: true}
		for _, id := range v.Approved {
			approved[id] = true
		}
		// Deterministic insertion: own intent first, then declared order.
		board.add(v.Intent, v.Weight, v.Weight)
		for _, id := range v.Approved {
			if id != v.Intent && approved[id] {
				board.add(id, v.Weight, v.Weight)
				approved[id] = false
			}
		}
	}
	intent, tied := board.winner()
	return finishTally(valid, intent, tied, 1)
}

// collectCandidates gathers every intent any ballot mentions, in first
// appearance order.
func collectCandidates(votes []*models.Vote) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range votes {
		mention := append([]string{v.Intent}, v.Rankings...)
		for _, id := range mention {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
