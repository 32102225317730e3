package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the "type" field of every message pushed to dashboard clients
type EventType string

const (
	EventConnection   EventType = "connection"
	EventRefresh      EventType = "refresh"
	EventNotification EventType = "notification"
)

// NotificationTarget is the resource key clients listen on for notification events
const NotificationTarget = "user-notifications"

// ErrInvalidEvent is returned when an event does not have the shape its type requires
var ErrInvalidEvent = errors.New("invalid event")

var validPriorities = map[string]bool{
	"":        true,
	"info":    true,
	"success": true,
	"warning": true,
	"error":   true,
}

// Notification is the body of a notification event
type Notification struct {
	ID       int64  `json:"id,omitempty" msgpack:"id,omitempty"`
	Title    string `json:"title" msgpack:"title"`
	Content  string `json:"content" msgpack:"content"`
	Priority string `json:"priority,omitempty" msgpack:"priority,omitempty"`
}

// Event is a message pushed to every open client. Empty fields are omitted on
// the wire, so a refresh serializes as {"type":"refresh","target":"..."}.
type Event struct {
	Type         EventType     `json:"type" msgpack:"type"`
	Target       string        `json:"target,omitempty" msgpack:"target,omitempty"`
	Message      string        `json:"message,omitempty" msgpack:"message,omitempty"`
	Profiles     []string      `json:"profiles,omitempty" msgpack:"profiles,omitempty"`
	Notification *Notification `json:"notification,omitempty" msgpack:"notification,omitempty"`
}

// Refresh tells clients to invalidate the cached resource identified by target
func Refresh(target string) Event {
	return Event{Type: EventRefresh, Target: target}
}

// Welcome is sent once to every new connection
func Welcome(message string) Event {
	return Event{Type: EventConnection, Message: message}
}

// NewNotification addresses a notification to the given user profiles ("TODOS" for everyone)
func NewNotification(profiles []string, n Notification) Event {
	return Event{
		Type:         EventNotification,
		Target:       NotificationTarget,
		Profiles:     profiles,
		Notification: &n,
	}
}

// Validate checks that the event carries the fields its type requires
func (e Event) Validate() error {
	switch e.Type {
	case EventRefresh:
		if e.Target == "" {
			return fmt.Errorf("%w: refresh requires a target", ErrInvalidEvent)
		}
	case EventConnection:
		if e.Message == "" {
			return fmt.Errorf("%w: connection requires a message", ErrInvalidEvent)
		}
	case EventNotification:
		if e.Notification == nil || e.Notification.Title == "" {
			return fmt.Errorf("%w: notification requires a title", ErrInvalidEvent)
		}
		if len(e.Profiles) == 0 {
			return fmt.Errorf("%w: notification requires at least one profile", ErrInvalidEvent)
		}
		if !validPriorities[e.Notification.Priority] {
			return fmt.Errorf("%w: unknown priority %q", ErrInvalidEvent, e.Notification.Priority)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Encode validates and serializes an event to its JSON wire form
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	return payload, nil
}
