package nats

import "time"

// Stream names.
const (
	StreamEvents = "PRINTCRAFT_EVENTS"
)

// Subject constants.
const (
	SubjectEventsWildcard      = "printcraft.events.>"
	SubjectGenerationCompleted = "printcraft.events.generation.completed"
	SubjectGenerationFailed    = "printcraft.events.generation.failed"
)

// GenerationEvent is published once per orchestrated generation that got
// past quota checking.
type GenerationEvent struct {
	// ID deduplicates redelivered publishes inside the stream's window.
	ID                string    `json:"id"`
	PromptID          int64     `json:"prompt_id"`
	UserID            *int64    `json:"user_id,omitempty"`
	CallerIP          string    `json:"caller_ip,omitempty"`
	SourceImageID     int64     `json:"source_image_id,omitempty"`
	GeneratedImageIDs []int64   `json:"generated_image_ids,omitempty"`
	Requested         int       `json:"requested"`
	Status            string    `json:"status"` // completed, failed
	Error             string    `json:"error,omitempty"`
	Duration          float64   `json:"duration_seconds"`
	Timestamp         time.Time `json:"timestamp"`
}
