package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"listings-hub/internal/model"
	"listings-hub/internal/util"
)

// maxClockSkew bounds how far in the future a client-reported occurredAt may be.
const maxClockSkew = 5 * time.Minute

// Normalize turns a raw submission from the events topic into a storable ListingEvent.
// occurredAt falls back to the server receive time when missing, unparseable or
// further ahead of it than maxClockSkew.
func Normalize(raw model.RawEvent, ipSalt string, now time.Time) (model.ListingEvent, error) {
	listingID := strings.TrimSpace(raw.ListingID)
	if listingID == "" {
		return model.ListingEvent{}, fmt.Errorf("event missing listingId")
	}
	eventType := model.EventType(raw.EventType)
	if !eventType.Valid() {
		return model.ListingEvent{}, fmt.Errorf("unsupported eventType %q", raw.EventType)
	}

	received := time.UnixMilli(raw.ReceivedAt).UTC()
	if raw.ReceivedAt == 0 {
		received = now.UTC()
	}
	occurred := received
	if raw.OccurredAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.OccurredAt); err == nil && !ts.After(received.Add(maxClockSkew)) {
			occurred = ts.UTC()
		}
	}

	eventCtx := raw.Context
	if eventCtx == nil {
		eventCtx = map[string]any{}
	}

	var ipHash string
	if raw.IP != "" {
		ipHash = hashIP(ipSalt, raw.IP)
	}

	return model.ListingEvent{
		ListingID:    listingID,
		EventType:    eventType,
		OccurredAt:   occurred,
		ExperienceID: raw.ExperienceID,
		SessionID:    raw.SessionID,
		UserID:       raw.UserID,
		DeviceType:   util.ParseDeviceType(raw.UA),
		IPHash:       ipHash,
		Context:      eventCtx,
		IngestedAt:   now.UTC(),
	}, nil
}

func hashIP(salt, ip string) string {
	hasher := sha256.New()
	hasher.Write([]byte(salt))
	hasher.Write([]byte(ip))
	return hex.EncodeToString(hasher.Sum(nil))
}
