package models

import (
	"strings"
	"time"
)

// AudioMetadata carries capture-side hints attached to a spoken utterance.
// Capture and transcription happen upstream; only the metadata travels here.
type AudioMetadata struct {
	Location    string  `json:"location,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	DeviceID    string  `json:"device_id,omitempty"`
	SampleRate  int     `json:"sample_rate,omitempty"`
	Channels    int     `json:"channels,omitempty"`
	Confidence  float32 `json:"confidence,omitempty"`
	DurationMs  int     `json:"duration_ms,omitempty"`
}

// Utterance is one piece of user text plus optional contextual metadata.
// Immutable per turn.
type Utterance struct {
	Text      string            `json:"text"`
	Device    string            `json:"device,omitempty"`
	Location  string            `json:"location,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Audio     *AudioMetadata    `json:"audio,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func NewUtterance(text string) *Utterance {
	return &Utterance{
		Text:      text,
		Timestamp: time.Now(),
	}
}

// IsEmpty reports whether the utterance has no usable text
func (u *Utterance) IsEmpty() bool {
	return u == nil || strings.TrimSpace(u.Text) == ""
}
