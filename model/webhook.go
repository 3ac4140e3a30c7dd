package model

import (
	"encoding/json"
	"time"
)

type WebhookStatus string

const (
	WebhookProcessing WebhookStatus = "processing"
	WebhookProcessed  WebhookStatus = "processed"
	WebhookFailed     WebhookStatus = "failed"
)

// WebhookEvent is the durable record of one distinct inbound delivery.
type WebhookEvent struct {
	EventID       string          `json:"event_id"`
	IntegrationID string          `json:"integration_id"`
	Platform      string          `json:"platform"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        WebhookStatus   `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}
