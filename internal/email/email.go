package email

import "context"

// Attachment is a file buffer attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one transactional email.
type Message struct {
	To          []string
	Cc          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers transactional email and returns the provider message id.
// Delivery failure is recorded in the invoice's email sub-state and is safely
// retriable; it never touches fiscal state.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}
