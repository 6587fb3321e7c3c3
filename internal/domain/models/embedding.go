package models

import (
	"time"
)

// EmbeddingDocument is one indexed exemplar: the text of a catalog example,
// its vector, and the intent it belongs to. All vectors in a store share the
// same dimension, fixed at registry load.
type EmbeddingDocument struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Vector    []float32         `json:"vector"`
	IntentID  string            `json:"intent_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewEmbeddingDocument(id, text, intentID string, vector []float32) *EmbeddingDocument {
	return &EmbeddingDocument{
		ID:        id,
		Text:      text,
		IntentID:  intentID,
		Vector:    vector,
		CreatedAt: time.Now(),
	}
}

// Dimension returns the vector length
func (d *EmbeddingDocument) Dimension() int {
	return len(d.Vector)
}
