package model

import "time"

// Message is a read-only record supplied by an external mailbox
// collaborator. The engine never writes back to it.
type Message struct {
	ID             string    `json:"id"`
	Folder         string    `json:"folder"`
	Timestamp      time.Time `json:"timestamp"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"sender_name,omitempty"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	ThreadID       string    `json:"thread_id,omitempty"`
	Importance     string    `json:"importance,omitempty"`
	HasAttachments bool      `json:"has_attachments,omitempty"`
	ThreadLength   int       `json:"thread_length,omitempty"`
}

// Text returns the combined subject and body used as retrieval query
func (m *Message) Text() string {
	if m.Subject == "" {
		return m.Body
	}
	return m.Subject + "\n\n" + m.Body
}
