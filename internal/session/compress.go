package session

import (
	"fmt"
	"strings"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// compressHistory folds the oldest half of the history into the context
// summary once the threshold is reached. After folding, turn_count equals
// len(history) again and the compression level is bumped.
func compressHistory(session *models.Session, threshold int) bool {
	if threshold < 2 || len(session.History) < threshold {
		return false
	}

	keep := threshold / 2
	cut := len(session.History) - keep
	folded := session.History[:cut]
	session.History = append([]*models.Turn{}, session.History[cut:]...)
	session.TurnCount = len(session.History)

	if session.Context == nil {
		session.Context = &models.SessionContext{}
	}
	summary := summarizeTurns(folded)
	if session.Context.Summary == "" {
		session.Context.Summary = summary
	} else {
		session.Context.Summary = session.Context.Summary + "\n" + summary
	}
	session.Context.CompressionLevel++
	return true
}

// summarizeTurns renders folded turns as one compact line per exchange
func summarizeTurns(turns []*models.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		var b strings.Builder
		fmt.Fprintf(&b, "usuario: %s", t.UserMessage)
		if t.DetectedIntent != "" {
			fmt.Fprintf(&b, " [%s]", t.DetectedIntent)
		}
		if t.SystemResponse != "" {
			fmt.Fprintf(&b, " | lucia: %s", t.SystemResponse)
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}
