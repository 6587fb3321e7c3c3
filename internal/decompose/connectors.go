package decompose

import (
	"strings"
)

// Connector classes detected in an utterance. They only hint at structure:
// the LLM's explicit dependencies always win.
type connectorKind int

const (
	connectorNone connectorKind = iota
	connectorParallel
	connectorSequential
	connectorConditional
)

var (
	sequentialMarkers  = []string{" luego ", " después ", " despues ", " then ", " a continuación ", " a continuacion "}
	conditionalMarkers = []string{" si ", " if ", " en caso de ", " cuando ", " mientras ", " while "}
	parallelMarkers    = []string{" y ", " and ", " e ", " también ", " tambien "}
)

// detectConnector classifies the dominant connector of an utterance.
// Conditional beats sequential beats parallel, because a condition implies
// an ordering and a sequence implies more than bare conjunction.
func detectConnector(utterance string) connectorKind {
	padded := " " + strings.ToLower(utterance) + " "
	if containsAny(padded, conditionalMarkers) {
		return connectorConditional
	}
	if containsAny(padded, sequentialMarkers) {
		return connectorSequential
	}
	if containsAny(padded, parallelMarkers) {
		return connectorParallel
	}
	return connectorNone
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
