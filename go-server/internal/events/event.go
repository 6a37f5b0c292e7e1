package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	URLCreated     Type = "url.created"
	URLAccessed    Type = "url.accessed"
	URLUpdated     Type = "url.updated"
	URLDeleted     Type = "url.deleted"
	URLDisabled    Type = "url.disabled"
	URLEnabled     Type = "url.enabled"
	UserRegistered Type = "user.registered"
	UserLoggedIn   Type = "user.logged_in"
)

// Event is a domain notification delivered to downstream consumers such as
// analytics. Payload holds type-specific fields.
type Event struct {
	Type       Type
	Code       string
	OwnerID    *uuid.UUID
	Payload    map[string]any
	OccurredAt time.Time
}

// New builds an event stamped with the current time.
func New(t Type, code string, owner *uuid.UUID, payload map[string]any) Event {
	return Event{
		Type:       t,
		Code:       code,
		OwnerID:    owner,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Body flattens the event into the JSON document published to consumers.
func (e Event) Body() map[string]any {
	body := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		body[k] = v
	}
	if e.Code != "" {
		body["short_code"] = e.Code
	}
	if e.OwnerID != nil {
		body["user_id"] = e.OwnerID.String()
	} else if _, ok := body["user_id"]; !ok {
		body["user_id"] = nil
	}
	body["timestamp"] = e.OccurredAt.Format(time.RFC3339Nano)
	return body
}
