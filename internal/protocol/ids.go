package protocol

import "github.com/google/uuid"

// NewMessageID returns a fresh UUIDv4 for the broker message_id
// field, per spec.md §6 ("message_id: UUIDv4 per publish").
func NewMessageID() string {
	return uuid.NewString()
}
