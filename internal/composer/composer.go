// Package composer builds and publishes outbound chat messages. Sending is
// fire-and-forget: compose state is cleared as soon as the envelope is
// handed to the transport, and delivery is confirmed only by the message
// echoing back on the sender's own chat topic.
package composer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/craftlance/relay/internal/upload"
	"github.com/craftlance/relay/internal/wire"
)

// ErrEmptyMessage means the compose state has neither text nor an
// attachment. Validation is purely local; no network call is made.
var ErrEmptyMessage = errors.New("composer: message has no content or attachment")

// Publisher publishes a payload on the live channel.
type Publisher interface {
	Publish(destination string, payload any) error
}

// Uploader performs the out-of-band binary upload of the two-phase send.
type Uploader interface {
	Upload(ctx context.Context, scope upload.Scope, f upload.File, recipientID string) (*wire.Attachment, error)
}

// Composer holds the compose state (draft text, pending attachment) for one
// user and turns it into published ChatMessage envelopes.
type Composer struct {
	userID   string
	pub      Publisher
	uploader Uploader
	now      func() time.Time

	text       string
	attachment *wire.Attachment
}

// New creates a composer publishing as userID.
func New(userID string, pub Publisher, uploader Uploader) *Composer {
	return &Composer{userID: userID, pub: pub, uploader: uploader, now: time.Now}
}

// SetText replaces the draft text.
func (c *Composer) SetText(text string) { c.text = text }

// Text returns the current draft text.
func (c *Composer) Text() string { return c.text }

// Attachment returns the pending attachment reference, or nil.
func (c *Composer) Attachment() *wire.Attachment { return c.attachment }

// Attach uploads the file and stores the returned reference as the pending
// attachment. The upload must complete before Send publishes a message
// referencing it; a failed upload leaves the compose state untouched.
func (c *Composer) Attach(ctx context.Context, f upload.File, recipientID string) error {
	ref, err := c.uploader.Upload(ctx, upload.ScopeChat, f, recipientID)
	if err != nil {
		return err
	}
	c.attachment = ref
	return nil
}

// DiscardAttachment drops the pending attachment reference. The uploaded
// blob is orphaned; cleanup is the backend's responsibility.
func (c *Composer) DiscardAttachment() { c.attachment = nil }

// Send validates the compose state, builds the envelope and publishes it.
// On success the compose state is cleared immediately, without waiting for
// any acknowledgment. On a publish failure the draft text is preserved for
// retry but the attachment reference is discarded client-side.
func (c *Composer) Send(recipientID string) (*wire.ChatMessage, error) {
	text := strings.TrimSpace(c.text)
	if text == "" && c.attachment == nil {
		return nil, ErrEmptyMessage
	}

	msg := &wire.ChatMessage{
		ID:          uuid.NewString(),
		SenderID:    c.userID,
		RecipientID: recipientID,
		Content:     text,
		Attachment:  c.attachment,
		TimestampMs: c.now().UnixMilli(),
	}

	if err := c.pub.Publish(wire.SendMessageDest, msg); err != nil {
		c.attachment = nil
		return nil, err
	}

	c.text = ""
	c.attachment = nil
	return msg, nil
}
