package messaging

import "context"

type (
	// Notification is emitted by a Transport while it is connected.
	Notification struct {
		Event     Event
		Challenge string // raw pairing challenge, set on EventChallengeIssued
		Reason    string
	}

	Document struct {
		Data     []byte
		Filename string
		MimeType string
		Caption  string
	}

	// Transport is one connection to the messaging network.
	//
	// Connect blocks for the lifetime of the connection, reporting progress through notify,
	// and returns once ctx is cancelled or the network ends the session.
	// A non-nil error returned before authentication means the pairing failed.
	// Destroy logs the session out and deletes its stored credentials.
	Transport interface {
		Connect(ctx context.Context, notify func(Notification)) error
		IsRegistered(ctx context.Context, phone string) (bool, error)
		SendText(ctx context.Context, phone, text string) error
		SendDocument(ctx context.Context, phone string, doc Document) error
		Destroy(ctx context.Context) error
	}

	TransportFactory func() (Transport, error)
)
