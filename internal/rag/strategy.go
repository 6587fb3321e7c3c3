package rag

import (
	"fmt"
	"strings"

	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Strategy names a prompt-construction style. Adaptive picks one of the
// others per request based on what retrieval returned.
type Strategy string

const (
	StrategyAdaptive       Strategy = "adaptive"
	StrategyFewShot        Strategy = "few-shot"
	StrategyZeroShot       Strategy = "zero-shot"
	StrategyChainOfThought Strategy = "chain-of-thought"
	StrategyExpertDomain   Strategy = "expert-domain"
)

// ParseStrategy maps a config string to a Strategy, defaulting to adaptive
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyFewShot, StrategyZeroShot, StrategyChainOfThought, StrategyExpertDomain:
		return Strategy(s)
	default:
		return StrategyAdaptive
	}
}

// fewShotFloor is the similarity above which adaptive considers an example
// strong enough to justify few-shot prompting.
const fewShotFloor = 0.5

// chooseStrategy resolves adaptive into a concrete strategy: expert-domain
// when all retrieved examples share one domain, few-shot when at least one
// high-similarity example exists, zero-shot otherwise.
func chooseStrategy(configured Strategy, results []ports.SearchResult, intents ports.IntentRegistry) Strategy {
	if configured != StrategyAdaptive {
		return configured
	}
	if len(results) == 0 {
		return StrategyZeroShot
	}
	if domain := sharedDomain(results, intents); domain != "" {
		return StrategyExpertDomain
	}
	for _, r := range results {
		if r.Score >= fewShotFloor {
			return StrategyFewShot
		}
	}
	return StrategyZeroShot
}

// sharedDomain returns the expert domain common to every retrieved example,
// or "" when the examples disagree or declare none.
func sharedDomain(results []ports.SearchResult, intents ports.IntentRegistry) string {
	domain := ""
	for _, r := range results {
		def, ok := intents.Get(r.Document.IntentID)
		if !ok || def.ExpertDomain == "" {
			return ""
		}
		if domain == "" {
			domain = def.ExpertDomain
			continue
		}
		if def.ExpertDomain != domain {
			return ""
		}
	}
	return domain
}

// promptInput collects everything one prompt build needs
type promptInput struct {
	utterance string
	results   []ports.SearchResult
	hints     *models.SessionHints
	intents   []*models.IntentDefinition
	domain    string
}

// buildPrompt renders the classification prompt for one strategy. Every
// variant ends with the same calibration block so confidence parsing stays
// uniform.
func buildPrompt(strategy Strategy, in promptInput) string {
	var b strings.Builder

	switch strategy {
	case StrategyExpertDomain:
		fmt.Fprintf(&b, "Eres un experto en el dominio %q de un asistente de voz doméstico. ", in.domain)
		b.WriteString("Clasifica la intención del usuario dentro de ese dominio.\n\n")
	case StrategyChainOfThought:
		b.WriteString("Eres el clasificador de intenciones de un asistente de voz. ")
		b.WriteString("Razona paso a paso sobre qué busca el usuario antes de decidir, ")
		b.WriteString("y entrega el razonamiento en el campo rationale.\n\n")
	default:
		b.WriteString("Eres el clasificador de intenciones de un asistente de voz.\n\n")
	}

	b.WriteString("Intenciones admisibles:\n")
	for _, def := range in.intents {
		fmt.Fprintf(&b, "- %s: %s\n", def.ID, def.Description)
	}
	b.WriteString("\n")

	if strategy != StrategyZeroShot && len(in.results) > 0 {
		b.WriteString("Ejemplos parecidos ya clasificados:\n")
		for _, r := range in.results {
			fmt.Fprintf(&b, "- %q -> %s (similitud %.2f)\n", r.Document.Text, r.Document.IntentID, r.Score)
		}
		b.WriteString("\n")
	}

	if in.hints.HasContext() {
		b.WriteString("Contexto de la sesión:\n")
		if in.hints.LastIntent != "" {
			fmt.Fprintf(&b, "- última intención: %s\n", in.hints.LastIntent)
		}
		for k, v := range in.hints.CachedEntities {
			fmt.Fprintf(&b, "- entidad conocida: %s = %s\n", k, v)
		}
		if in.hints.Summary != "" {
			fmt.Fprintf(&b, "- resumen previo: %s\n", in.hints.Summary)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Frase del usuario: %q\n\n", in.utterance)

	b.WriteString("Responde SOLO con un objeto JSON con esta forma exacta:\n")
	b.WriteString(`{"intent": "<id de la lista>", "confidence": <número entre 0 y 1>, "entities": {"<nombre>": "<valor>"}, "rationale": "<una frase>"}`)
	b.WriteString("\n\nCalibra confidence con honestidad: 1.0 solo ante certeza total, ")
	b.WriteString("por debajo de 0.5 cuando la frase sea ambigua. ")
	b.WriteString("Si ninguna intención encaja usa \"unknown\".")

	return b.String()
}
