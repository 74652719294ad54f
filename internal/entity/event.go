package entity

import (
	"encoding/json"
	"time"
)

// EventLevel is the severity of a ProcessingEvent.
type EventLevel string

const (
	LevelInfo    EventLevel = "INFO"
	LevelWarning EventLevel = "WARNING"
	LevelError   EventLevel = "ERROR"
)

// EventTimeFormat is how event timestamps are rendered.
const EventTimeFormat = "2006-01-02 15:04:05,000"

// ProcessingEvent is an append-only log entry on a DocumentRecord.
type ProcessingEvent struct {
	Timestamp time.Time      `json:"-"`
	Level     EventLevel     `json:"level"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(level EventLevel, stage, message string, details map[string]any) ProcessingEvent {
	return ProcessingEvent{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Stage:     stage,
		Message:   message,
		Details:   details,
	}
}

func (e ProcessingEvent) MarshalJSON() ([]byte, error) {
	type alias ProcessingEvent
	return json.Marshal(struct {
		Timestamp string `json:"timestamp"`
		alias
	}{Timestamp: e.Timestamp.Format(EventTimeFormat), alias: alias(e)})
}
