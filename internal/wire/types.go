// Package wire defines the envelope types shared by the relay server, the
// client transport and the REST collaborator, plus the derivation of
// per-user topic names. Everything on the live channel is JSON.
package wire

import "encoding/json"

// Op is the frame operation.
type Op string

const (
	// OpSubscribe attaches the session to a topic (client to server).
	OpSubscribe Op = "sub"
	// OpPublish sends a payload to a server-side destination.
	OpPublish Op = "pub"
	// OpEvent carries a pushed event for a subscribed topic (server to
	// client).
	OpEvent Op = "evt"
	// OpError reports a rejected frame (server to client).
	OpError Op = "err"
)

// Frame is the single envelope exchanged on the live channel.
type Frame struct {
	Op      Op              `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AttachmentType selects how the UI renders an attachment.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "IMAGE"
	AttachmentDocument AttachmentType = "DOCUMENT"
)

// Attachment is a stable reference to an uploaded binary. The blob itself
// never travels on the live channel.
type Attachment struct {
	URL              string         `json:"attachment_url"`
	Type             AttachmentType `json:"attachment_type"`
	OriginalFilename string         `json:"original_filename,omitempty"`
	FileSize         int64          `json:"file_size,omitempty"`
}

// ChatMessage is one direct message between two users. IDs are assigned by
// the sender so duplicate deliveries can be recognized.
type ChatMessage struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	Content     string      `json:"content"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	TimestampMs int64       `json:"timestamp_ms"`
}

// NotificationType tags the marketplace event a notification announces.
type NotificationType string

const (
	NotificationApplicationReceived NotificationType = "APPLICATION_RECEIVED"
	NotificationApplicationAccepted NotificationType = "APPLICATION_ACCEPTED"
	NotificationApplicationRejected NotificationType = "APPLICATION_REJECTED"
	NotificationWorkSubmitted       NotificationType = "WORK_SUBMITTED"
	NotificationWorkApproved        NotificationType = "WORK_APPROVED"
	NotificationWorkRejected        NotificationType = "WORK_REJECTED"
	NotificationProjectCompleted    NotificationType = "PROJECT_COMPLETED"
	NotificationProjectCancelled    NotificationType = "PROJECT_CANCELLED"
	NotificationReviewReceived      NotificationType = "REVIEW_RECEIVED"
	NotificationNewMessage          NotificationType = "NEW_MESSAGE"
)

// Notification is one entry in the user's notification center. ActionRef is
// an optional navigable target (a project or conversation) for the UI.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	ActionRef   string           `json:"action_ref,omitempty"`
	Read        bool             `json:"read"`
	CreatedAtMs int64            `json:"created_at_ms"`
}
