// Package slots drives required-slot completion for a resolved intent:
// extraction from the utterance, validation, and question generation for
// whatever stays missing.
package slots

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// Filler implements ports.SlotFiller. Sources are tried in order: regex
// patterns declared on the slot, the LLM extraction program, and finally
// the session entity cache.
type Filler struct {
	cfg       config.SlotsConfig
	extractor Extractor
	logger    *slog.Logger
}

func NewFiller(cfg config.SlotsConfig, extractor Extractor, logger *slog.Logger) *Filler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filler{cfg: cfg, extractor: extractor, logger: logger}
}

// Fill resolves as many missing required slots as the utterance allows,
// then either reports completion or asks for the next one.
func (f *Filler) Fill(ctx context.Context, session *models.Session, intent *models.IntentDefinition, utterance *models.Utterance) (*ports.SlotOutcome, error) {
	missing := intent.MissingSlots(session.Slots)
	for _, slot := range missing {
		value, source := f.resolve(ctx, session, intent, utterance, slot)
		if value == "" {
			continue
		}
		session.SetSlot(slot, value)
		f.logger.Debug("slot filled",
			"session_id", session.ID, "intent", intent.ID, "slot", slot, "source", source)
	}

	missing = intent.MissingSlots(session.Slots)
	if len(missing) == 0 {
		return &ports.SlotOutcome{Complete: true, Filled: copySlots(session.Slots)}, nil
	}

	next := missing[0]
	attempts := session.BumpSlotAttempt(next)
	if attempts > f.cfg.MaxAttempts {
		return nil, domain.NewSessionError(session.ID,
			fmt.Errorf("slot %q: %w", next, domain.ErrMaxAttemptsReached))
	}

	return &ports.SlotOutcome{
		Slot:     next,
		Question: renderQuestion(intent.QuestionFor(next), session.Slots),
		Filled:   copySlots(session.Slots),
	}, nil
}

// resolve tries each extraction source for one slot and returns the first
// value that validates.
func (f *Filler) resolve(ctx context.Context, session *models.Session, intent *models.IntentDefinition, utterance *models.Utterance, slot string) (string, string) {
	constraint := intent.SlotConstraints[slot]

	if utterance != nil && !utterance.IsEmpty() {
		if value := matchPatterns(utterance.Text, constraint.Patterns); value != "" {
			if canonical, ok := validate(value, constraint); ok {
				return canonical, "pattern"
			}
		}

		if f.cfg.UseLLM && f.extractor != nil {
			value, _, err := f.extractor.Extract(ctx, ExtractInput{
				Utterance:         utterance.Text,
				IntentDescription: intent.Description,
				SlotName:          slot,
				KnownSlots:        session.Slots,
			})
			if err != nil {
				f.logger.Warn("llm slot extraction failed",
					"session_id", session.ID, "slot", slot, "error", err)
			} else if value != "" {
				if canonical, ok := validate(value, constraint); ok {
					return canonical, "llm"
				}
			}
		}
	}

	if session.Context != nil {
		if cached, ok := session.Context.EntityCache[slot]; ok {
			if canonical, ok := validate(cached, constraint); ok {
				return canonical, "entity_cache"
			}
		}
	}
	return "", ""
}

// matchPatterns returns the first regex hit, preferring capture group 1
func matchPatterns(text string, patterns []string) string {
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		groups := re.FindStringSubmatch(text)
		switch {
		case len(groups) > 1 && groups[1] != "":
			return cleanValue(groups[1])
		case len(groups) == 1:
			return cleanValue(groups[0])
		}
	}
	return ""
}

// validate normalises a candidate and checks it against the enumeration,
// if any. Enum comparison is case- and diacritic-insensitive; the declared
// enum entry is what gets stored.
func validate(value string, constraint models.SlotConstraint) (string, bool) {
	value = cleanValue(value)
	if value == "" {
		return "", false
	}
	if len(constraint.Enum) == 0 {
		return value, true
	}
	folded := fold(value)
	for _, allowed := range constraint.Enum {
		if fold(allowed) == folded {
			return allowed, true
		}
	}
	return "", false
}

// renderQuestion fills {slot} placeholders in a question template with
// already-confirmed values.
func renderQuestion(template string, filled map[string]string) string {
	out := template
	for name, value := range filled {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

func copySlots(slots map[string]string) map[string]string {
	out := make(map[string]string, len(slots))
	for k, v := range slots {
		out[k] = v
	}
	return out
}
