package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Domain contains core models shared by the watcher, marketplaces and sinks.

// Review is a single marketplace review. Only ID is inspected by the watcher;
// Raw keeps the record exactly as the marketplace returned it.
type Review struct {
	ID  string
	Raw json.RawMessage
}

// MarshalJSON persists the review as its original record.
func (r Review) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// WatchTarget identifies one extension watched on one marketplace.
type WatchTarget struct {
	Marketplace string `json:"marketplace"`
	ExtensionID string `json:"extension_id"`
	DisplayName string `json:"display_name,omitempty"`
}

func (t WatchTarget) String() string {
	return t.Marketplace + "/" + t.ExtensionID
}

// Event is the normalized outbound analytics event produced for a new review.
type Event struct {
	Name        string         `json:"event"`
	UserID      string         `json:"user_id"`
	Properties  map[string]any `json:"properties"`
	Marketplace string         `json:"marketplace"`
	ExtensionID string         `json:"extension_id"`
	MessageID   string         `json:"message_id"`
	Timestamp   time.Time      `json:"timestamp"`
}

// EventReview is the name of the event emitted per new review.
const EventReview = "review"

// DecodeReviews turns a JSON array of records into reviews, reading each
// record's identity from idField. Numeric identities are kept in their
// literal form so "90008" and 90008 compare equal.
func DecodeReviews(data []byte, idField string) ([]Review, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode review array: %w", err)
	}
	if records == nil {
		// null unmarshals into a nil slice without error
		return nil, fmt.Errorf("decode review array: got null")
	}

	reviews := make([]Review, 0, len(records))
	for i, raw := range records {
		id, err := RecordID(raw, idField)
		if err != nil {
			return nil, fmt.Errorf("review[%d]: %w", i, err)
		}
		reviews = append(reviews, Review{ID: id, Raw: raw})
	}
	return reviews, nil
}

// RecordID extracts the identity field of a single JSON object as a string.
func RecordID(raw json.RawMessage, idField string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("record is not a JSON object: %w", err)
	}
	val, ok := obj[idField]
	if !ok {
		return "", fmt.Errorf("record has no %q field", idField)
	}
	id := ScalarString(val)
	if id == "" {
		return "", fmt.Errorf("record field %q is empty", idField)
	}
	return id, nil
}

// ScalarString renders a JSON string or number as plain text. Other values
// yield an empty string.
func ScalarString(val json.RawMessage) string {
	val = bytes.TrimSpace(val)
	if len(val) == 0 {
		return ""
	}
	switch val[0] {
	case '"':
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(val, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}
