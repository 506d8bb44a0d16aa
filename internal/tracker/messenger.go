package tracker

import "context"

// MessageHandle identifies a message owned by the messaging platform.
// ID is the platform's external id; nothing else about the message is assumed.
type MessageHandle struct {
	ID string
}

// Messenger is the channel-bound messaging capability the tracker drives.
type Messenger interface {
	Send(ctx context.Context, text string) (MessageHandle, error)
	Edit(ctx context.Context, h MessageHandle, text string) error
	Pin(ctx context.Context, h MessageHandle) error
	Unpin(ctx context.Context, h MessageHandle) error
	UnpinByID(ctx context.Context, externalID string) error
}

// Observer receives tracker events (metrics).
type Observer interface {
	Tick()
	StatusEdited()
	AlertSent()
	ChirpSent()
	KillRecorded()
	MessagingFailed(op string)
}

type nopObserver struct{}

func (nopObserver) Tick()                  {}
func (nopObserver) StatusEdited()          {}
func (nopObserver) AlertSent()             {}
func (nopObserver) ChirpSent()             {}
func (nopObserver) KillRecorded()          {}
func (nopObserver) MessagingFailed(string) {}
