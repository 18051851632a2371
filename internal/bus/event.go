package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name; subscribers filter by namespace prefix.
//
// Kinds used across the engine:
//
//	session.state_changed   transport connection state transitions
//	session.failed          retry policy exhausted, user-visible
//	chat.message            inbound ChatMessage from the live channel
//	notify.event            inbound Notification
//	notify.count            authoritative unread-count resync
//	view.contacts           ranked contact list changed
//	view.conversation       open conversation changed
//	view.notifications      notification list or count changed
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
