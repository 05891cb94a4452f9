package protocol

import "time"

// Sources of a classification.
const (
	SourceText  = "text"
	SourceAudio = "audio"
)

// ClassificationEvent is broadcast after every successful prediction. It
// never carries the message text or transcript.
type ClassificationEvent struct {
	RequestID string    `json:"request_id,omitempty"`
	Source    string    `json:"source"`
	Label     string    `json:"label"`
	Pred      int       `json:"pred"`
	Proba     *float64  `json:"proba"`
	Backend   string    `json:"backend,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const SubjectClassified = "spamguard.classified"
