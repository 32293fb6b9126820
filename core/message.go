package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates the three envelope categories on the bus.
type MessageKind string

const (
	// KindRequest asks an agent to perform work; carries a correlation id
	// the eventual response must echo.
	KindRequest MessageKind = "request"
	// KindResponse answers a previously received request.
	KindResponse MessageKind = "response"
	// KindEvent is a fire-and-forget notification with no reply expected.
	KindEvent MessageKind = "event"
)

// Message is the envelope exchanged between agents and the coordinator.
// After publication it must be treated as immutable; cross-agent visibility
// happens exclusively through these payloads. Recipient is either an agent
// id or a capability tag. A response always carries the CorrelationID of its
// originating request so the coordinator can discard late or duplicate
// deliveries.
type Message struct {
	ID            string      `json:"id"`
	Sender        string      `json:"sender"`
	Recipient     string      `json:"recipient"`
	Kind          MessageKind `json:"kind"`
	Subject       string      `json:"subject"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Payload       any         `json:"payload,omitempty"`
	Err           string      `json:"error,omitempty"`
	ErrKind       ErrorKind   `json:"error_kind,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Deadline      time.Time   `json:"deadline,omitempty"`
}

// NewID generates a unique identifier for messages, requests and jobs.
func NewID() string { return uuid.NewString() }

// NewRequest constructs a request envelope. The message id doubles as the
// correlation id responses must echo back.
func NewRequest(sender, recipient, subject string, payload any) Message {
	id := NewID()
	return Message{
		ID:            id,
		Sender:        sender,
		Recipient:     recipient,
		Kind:          KindRequest,
		Subject:       subject,
		CorrelationID: id,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewResponse constructs a successful response to req authored by sender.
func NewResponse(req Message, sender string, payload any) Message {
	return Message{
		ID:            NewID(),
		Sender:        sender,
		Recipient:     req.Sender,
		Kind:          KindResponse,
		Subject:       req.Subject,
		CorrelationID: req.CorrelationID,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewErrorResponse constructs a failure response preserving the error kind
// so the coordinator can apply its per-kind failure policy.
func NewErrorResponse(req Message, sender string, err error) Message {
	m := NewResponse(req, sender, nil)
	if err != nil {
		m.Err = err.Error()
		m.ErrKind = KindOf(err)
	}
	return m
}

// NewEventMessage constructs a fire-and-forget event envelope.
func NewEventMessage(sender, recipient, subject string, payload any) Message {
	return Message{
		ID:        NewID(),
		Sender:    sender,
		Recipient: recipient,
		Kind:      KindEvent,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDeadline returns a copy of the message carrying an absolute deadline.
func (m Message) WithDeadline(d time.Time) Message {
	m.Deadline = d
	return m
}

// Expired reports whether the message deadline has passed at the given time.
// Messages without a deadline never expire.
func (m Message) Expired(now time.Time) bool {
	return !m.Deadline.IsZero() && now.After(m.Deadline)
}

// IsError reports whether a response envelope carries a failure.
func (m Message) IsError() bool { return m.Err != "" }
