package model

import "time"

// EventType enumerates the engagement events recorded for a listing.
type EventType string

const (
	EventCardView      EventType = "card_view"
	EventOverlayOpen   EventType = "overlay_open"
	EventReferralClick EventType = "referral_click"
)

// Valid reports whether t is one of the accepted event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCardView, EventOverlayOpen, EventReferralClick:
		return true
	default:
		return false
	}
}

// EventSubmission is the payload accepted by the public events API.
type EventSubmission struct {
	ListingID    string         `json:"listingId"`
	EventType    string         `json:"eventType"`
	OccurredAt   string         `json:"occurredAt,omitempty"`
	ExperienceID string         `json:"experienceId,omitempty"`
	SessionID    string         `json:"sessionId,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// RawEvent is the message stored in the raw Kafka topic.
type RawEvent struct {
	EventSubmission
	IP         string `json:"ip"`
	UA         string `json:"ua"`
	ReceivedAt int64  `json:"received_at"` // milliseconds epoch
}

// NewRawEvent builds a RawEvent from a validated submission and server metadata.
func NewRawEvent(sub EventSubmission, ip, ua string, receivedAt time.Time) RawEvent {
	return RawEvent{
		EventSubmission: sub,
		IP:              ip,
		UA:              ua,
		ReceivedAt:      receivedAt.UnixMilli(),
	}
}

// ListingEvent is an immutable, append-only engagement record.
type ListingEvent struct {
	ListingID    string         `json:"listing_id"`
	EventType    EventType      `json:"event_type"`
	OccurredAt   time.Time      `json:"occurred_at"`
	ExperienceID string         `json:"experience_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	DeviceType   string         `json:"device_type,omitempty"`
	IPHash       string         `json:"ip_hash,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	IngestedAt   time.Time      `json:"_ingested_at"`
}
