package core

import "net/mail"

type (
	// Notification is a message handed to the host's notification facility.
	// Delivery (and whether anything listens at all) is opaque to the engine.
	Notification struct {
		To      []mail.Address
		Subject string
		Body    string
	}

	// Notifier is any service that can deliver notifications.
	Notifier interface {
		// Send delivers notifications; implementations may do so concurrently.
		Send(notifications ...*Notification)
	}
)

func (n *Notification) HasRecipients() bool { return len(n.To) > 0 }
func (n *Notification) HasContent() bool    { return n.Body != "" }
