// Package mail abstracts the outbound email transport the dispatcher sends
// through. The engine never talks SMTP directly; it hands a rendered message
// to a Transport.
package mail

import (
	"context"
)

// Message is one rendered email, ready for delivery.
type Message struct {
	From     string // sending account address, used verbatim in follow-up quoting
	FromName string
	To       string
	Subject  string
	HTML     string
}

// Transport delivers one message. Implementations must honor ctx
// cancellation and return an error describing the transport failure; the
// dispatcher records that text on the recipient.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
