package jury

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Engine runs jury deliberations: concurrent fan-out of one prompt to
// every juror, consensus over the ballots, optional debate rounds where
// jurors see each other's previous votes, and a single-juror fallback when
// consensus cannot be reached.
type Engine struct {
	jurors    []ports.Juror
	cfg       config.MoEConfig
	algorithm Algorithm
	logger    *slog.Logger
}

// NewEngine builds an engine over an already-filtered roster. Jurors with
// missing credentials are skipped before this point, so min_votes applies
// to the jurors that remain.
func NewEngine(jurors []ports.Juror, cfg config.MoEConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		jurors:    jurors,
		cfg:       cfg,
		algorithm: ParseAlgorithm(cfg.Algorithm),
		logger:    logger,
	}
}

// Deliberate runs the full voting protocol for one utterance
func (e *Engine) Deliberate(ctx context.Context, req *ports.JuryRequest) (*ports.JuryVerdict, error) {
	if len(e.jurors) == 0 {
		return nil, domain.ErrNoJurors
	}
	// Skipping happens at roster build; when fewer than min_votes jurors
	// remain there is no point running a round that cannot succeed.
	if len(e.jurors) < e.cfg.MinVotes {
		return e.singleJurorMode(ctx, req, 0)
	}

	base := e.basePrompt(req)
	votes := e.runRound(ctx, func(ports.Juror) string { return base }, e.voteTimeout())
	tally := e.algorithm.Tally(votes)
	rounds := 1

	allVotes := append([]*models.Vote(nil), votes...)
	votes, tally, rounds = e.debate(ctx, req, votes, tally, rounds, &allVotes)

	if tally.Agreement == models.AgreementFailed ||
		tally.ValidVotes < e.cfg.MinVotes ||
		tally.Confidence < e.cfg.ConsensusThreshold ||
		tally.Intent == "" || tally.Intent == "unknown" {
		e.logger.Warn("consensus failed, degrading to single juror",
			"agreement", string(tally.Agreement),
			"confidence", tally.Confidence,
			"valid_votes", tally.ValidVotes)
		return e.singleJurorMode(ctx, req, rounds)
	}

	consensus := &models.Consensus{
		Intent:         tally.Intent,
		Confidence:     tally.Confidence,
		Agreement:      tally.Agreement,
		Method:         e.algorithm.Name(),
		MergedEntities: mergeEntities(votes, tally.Intent),
		MergedSubtasks: mergeSubtasks(votes, tally.Intent),
		Rationale:      rationaleFor(votes, tally.Intent),
		Rounds:         rounds,
		VotesCast:      len(allVotes),
		VotesValid:     tally.ValidVotes,
	}
	return &ports.JuryVerdict{Consensus: consensus, Votes: allVotes}, nil
}

// debate runs rounds 2..R while agreement is short of unanimous. Each
// juror sees the other jurors' previous ballots. The debate stops early on
// unanimity or when confidence improves by no more than the configured
// threshold (equal improvement stops; only strictly greater continues).
func (e *Engine) debate(ctx context.Context, req *ports.JuryRequest,
	votes []*models.Vote, tally Tally, rounds int, allVotes *[]*models.Vote) ([]*models.Vote, Tally, int) {

	deadline := time.Now().Add(e.debateTimeout())
	for round := 2; round <= e.cfg.DebateRounds; round++ {
		if tally.Agreement == models.AgreementUnanimous {
			break
		}
		if !time.Now().Before(deadline) {
			e.logger.Warn("debate budget exhausted", "round", round)
			break
		}

		prev := votes
		next := e.runRound(ctx, func(j ports.Juror) string {
			return e.debatePrompt(req, prev, j.ID())
		}, e.voteTimeout())
		if len(next) == 0 {
			break
		}
		*allVotes = append(*allVotes, next...)

		nextTally := e.algorithm.Tally(next)
		improvement := nextTally.Confidence - tally.Confidence
		votes, tally = next, nextTally
		rounds = round
		if nextTally.Agreement != models.AgreementUnanimous && improvement <= e.cfg.ImprovementThreshold {
			break
		}
	}
	return votes, tally, rounds
}

// runRound dispatches every juror concurrently and collects ballots until
// all jurors answer, the round timeout fires, or the ballots already in
// hand lock the outcome. Late ballots are discarded with the round.
// Sequential mode calls jurors in roster order instead.
func (e *Engine) runRound(ctx context.Context, promptFor func(ports.Juror) string, timeout time.Duration) []*models.Vote {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !e.cfg.Parallel {
		votes := make([]*models.Vote, 0, len(e.jurors))
		for _, j := range e.jurors {
			vote, err := j.ProposeIntent(rctx, promptFor(j))
			if err != nil {
				e.logger.Warn("juror vote failed", "juror", j.ID(), "error", err)
				continue
			}
			votes = append(votes, vote)
		}
		return votes
	}

	type outcome struct {
		jurorID string
		weight  float64
		vote    *models.Vote
		err     error
	}
	results := make(chan outcome, len(e.jurors))
	pending := len(e.jurors)
	pendingWeight := 0.0
	for _, j := range e.jurors {
		pendingWeight += j.Weight()
		go func(j ports.Juror) {
			vote, err := j.ProposeIntent(rctx, promptFor(j))
			results <- outcome{jurorID: j.ID(), weight: j.Weight(), vote: vote, err: err}
		}(j)
	}

	votes := make([]*models.Vote, 0, len(e.jurors))
	for pending > 0 {
		select {
		case out := <-results:
			pending--
			pendingWeight -= out.weight
			if out.err != nil {
				e.logger.Warn("juror vote failed", "juror", out.jurorID, "error", out.err)
				continue
			}
			votes = append(votes, out.vote)
			if e.earlyDecided(votes, pending, pendingWeight) {
				e.logger.Debug("round decided early",
					"received", len(votes), "outstanding", pending)
				return votes
			}
		case <-rctx.Done():
			e.logger.Warn("round timeout, discarding late votes",
				"received", len(votes), "jurors", len(e.jurors))
			return votes
		}
	}
	return votes
}

// earlyDecided reports whether the ballots still outstanding can no longer
// change the round's winner: the leader's margin over the runner-up exceeds
// the maximum score the missing jurors could add to any single intent.
// Ranked and approval ballots carry no such bound and wait the round out.
func (e *Engine) earlyDecided(votes []*models.Vote, pending int, pendingWeight float64) bool {
	if pending == 0 || len(votes) < e.cfg.MinVotes {
		return false
	}
	var score func(*models.Vote) float64
	var bound float64
	switch e.algorithm.(type) {
	case WeightedMajority:
		score = (*models.Vote).WeightedScore
		bound = pendingWeight
	case Plurality:
		score = func(*models.Vote) float64 { return 1 }
		bound = float64(pending)
	case ConfidenceWeighted:
		score = func(v *models.Vote) float64 { return v.Confidence }
		bound = float64(pending)
	default:
		return false
	}

	totals := make(map[string]float64)
	for _, v := range votes {
		if v.IsValid() {
			totals[v.Intent] += score(v)
		}
	}
	var top, second float64
	for _, s := range totals {
		if s > top {
			top, second = s, top
		} else if s > second {
			second = s
		}
	}
	return top-second > bound
}

// singleJurorMode degrades to one compact classification call against the
// primary juror (the first roster entry).
func (e *Engine) singleJurorMode(ctx context.Context, req *ports.JuryRequest, rounds int) (*ports.JuryVerdict, error) {
	primary := e.jurors[0]
	vote, err := primary.ProposeIntent(ctx, e.compactPrompt(req))
	if err != nil {
		return nil, &domain.ConsensusError{
			Round:      rounds,
			ValidVotes: 0,
			MinVotes:   e.cfg.MinVotes,
			Err:        fmt.Errorf("single juror fallback: %w", err),
		}
	}

	consensus := &models.Consensus{
		Intent:         vote.Intent,
		Confidence:     vote.Confidence,
		Agreement:      models.AgreementFor(1, 1, true),
		Method:         "single_llm_mode",
		MergedEntities: vote.Entities,
		MergedSubtasks: vote.Subtasks,
		Rounds:         rounds,
		VotesCast:      1,
		VotesValid:     1,
	}
	return &ports.JuryVerdict{Consensus: consensus, Votes: []*models.Vote{vote}}, nil
}

func (e *Engine) voteTimeout() time.Duration {
	if e.cfg.VoteTimeoutMs <= 0 {
		return 8 * time.Second
	}
	return time.Duration(e.cfg.VoteTimeoutMs) * time.Millisecond
}

func (e *Engine) debateTimeout() time.Duration {
	if e.cfg.DebateTimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(e.cfg.DebateTimeoutMs) * time.Millisecond
}

// basePrompt is the shared round-1 prompt: utterance, admissible intents,
// recent session context, and (optionally) the RAG result as a hint.
func (e *Engine) basePrompt(req *ports.JuryRequest) string {
	var b strings.Builder
	b.WriteString("Formas parte de un jurado que clasifica la intención de un usuario de un asistente de voz.\n\n")

	if len(req.Candidates) > 0 {
		b.WriteString("Intenciones admisibles: ")
		b.WriteString(strings.Join(req.Candidates, ", "))
		b.WriteString("\n\n")
	}

	if e.cfg.SeedWithRAG && req.RagHint != nil {
		fmt.Fprintf(&b, "Un clasificador previo propone %q con confianza %.2f. "+
			"Tómalo como pista, no como verdad.\n\n", req.RagHint.IntentID, req.RagHint.Confidence)
	}

	fmt.Fprintf(&b, "Frase del usuario: %q\n\n", req.Utterance)
	b.WriteString(ballotInstructions)
	return b.String()
}

// debatePrompt shows a juror the other jurors' previous ballots and asks
// for reconsideration.
func (e *Engine) debatePrompt(req *ports.JuryRequest, prev []*models.Vote, jurorID string) string {
	var b strings.Builder
	b.WriteString(e.basePrompt(req))
	b.WriteString("\n\nRonda de debate. Votos del resto del jurado en la ronda anterior:\n")
	for _, v := range prev {
		if v.JurorID == jurorID {
			continue
		}
		fmt.Fprintf(&b, "- %s votó %q con confianza %.2f\n", v.JurorID, v.Intent, v.Confidence)
	}
	b.WriteString("\nReconsidéralo: mantén tu voto solo si sigues convencido, y emite de nuevo el JSON.")
	return b.String()
}

// compactPrompt is the minimal classification prompt for single mode
func (e *Engine) compactPrompt(req *ports.JuryRequest) string {
	var b strings.Builder
	b.WriteString("Clasifica la intención de la frase del usuario.\n")
	if len(req.Candidates) > 0 {
		b.WriteString("Intenciones admisibles: ")
		b.WriteString(strings.Join(req.Candidates, ", "))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Frase: %q\n\n", req.Utterance)
	b.WriteString(ballotInstructions)
	return b.String()
}

const ballotInstructions = `Responde SOLO con un objeto JSON:
{"intent": "<id>", "confidence": <0..1>, "entities": {"<nombre>": "<valor>"}, "subtasks": [{"action": "<plugin.accion>", "entities": {}, "depends_on": []}], "rationale": "<una frase>"}
Deja "subtasks" vacío si la frase no pide varios pasos. Puedes añadir "rankings" (lista ordenada de candidatos) y "approved" (candidatos que también aceptarías).`

// mergeEntities merges entities from the votes supporting the winning
// intent: each key takes the value with the highest summed weight times
// confidence.
func mergeEntities(votes []*models.Vote, intent string) map[string]string {
	type valueScore struct {
		score float64
		order int
	}
	scores := make(map[string]map[string]*valueScore)
	order := 0
	for _, v := range votes {
		if v.Intent != intent {
			continue
		}
		for key, value := range v.Entities {
			if scores[key] == nil {
				scores[key] = make(map[string]*valueScore)
			}
			vs, ok := scores[key][value]
			if !ok {
				vs = &valueScore{order: order}
				order++
				scores[key][value] = vs
			}
			vs.score += v.WeightedScore()
		}
	}
	if len(scores) == 0 {
		return nil
	}
	merged := make(map[string]string, len(scores))
	for key, values := range scores {
		bestValue := ""
		var best *valueScore
		for value, vs := range values {
			if best == nil || vs.score > best.score || (vs.score == best.score && vs.order < best.order) {
				best = vs
				bestValue = value
			}
		}
		merged[key] = bestValue
	}
	return merged
}

// mergeSubtasks unions subtask proposals from supporting votes,
// de-duplicated by action plus entities in first-appearance order.
// When two jurors propose the same unit of work their dependency
// lists are unioned.
func mergeSubtasks(votes []*models.Vote, intent string) []models.SubtaskProposal {
	index := make(map[string]int)
	var merged []models.SubtaskProposal
	for _, v := range votes {
		if v.Intent != intent {
			continue
		}
		for _, p := range v.Subtasks {
			if p.Action == "" {
				continue
			}
			key := p.Key()
			if at, ok := index[key]; ok {
				merged[at].DependsOn = unionDeps(merged[at].DependsOn, p.DependsOn)
				continue
			}
			index[key] = len(merged)
			prop := models.SubtaskProposal{
				Action:    p.Action,
				DependsOn: append([]string(nil), p.DependsOn...),
			}
			if len(p.Entities) > 0 {
				prop.Entities = make(map[string]string, len(p.Entities))
				for k, val := range p.Entities {
					prop.Entities[k] = val
				}
			}
			merged = append(merged, prop)
		}
	}
	return merged
}

// unionDeps appends the deps from extra not already present, keeping order
func unionDeps(deps, extra []string) []string {
	seen := make(map[string]bool, len(deps))
	for _, d := range deps {
		seen[d] = true
	}
	for _, d := range extra {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		deps = append(deps, d)
	}
	return deps
}

// rationaleFor summarises the support behind the winner
func rationaleFor(votes []*models.Vote, intent string) string {
	var supporters []string
	for _, v := range votes {
		if v.Intent == intent {
			supporters = append(supporters, fmt.Sprintf("%s (%.2f)", v.JurorID, v.Confidence))
		}
	}
	if len(supporters) == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d votos a favor de %s: %s",
		len(supporters), len(votes), intent, strings.Join(supporters, ", "))
}
