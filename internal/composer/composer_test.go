package composer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/craftlance/relay/internal/upload"
	"github.com/craftlance/relay/internal/wire"
)

type fakePublisher struct {
	err      error
	sent     []wire.ChatMessage
	attempts int
}

func (p *fakePublisher) Publish(dest string, payload any) error {
	p.attempts++
	if p.err != nil {
		return p.err
	}
	msg := payload.(*wire.ChatMessage)
	p.sent = append(p.sent, *msg)
	return nil
}

type fakeUploader struct {
	ref *wire.Attachment
	err error
}

func (u *fakeUploader) Upload(_ context.Context, _ upload.Scope, _ upload.File, _ string) (*wire.Attachment, error) {
	return u.ref, u.err
}

func TestSendTextMessage(t *testing.T) {
	pub := &fakePublisher{}
	c := New("u1", pub, &fakeUploader{})

	c.SetText("  hello there ")
	msg, err := c.Send("u2")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if msg.SenderID != "u1" || msg.RecipientID != "u2" || msg.Content != "hello there" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.ID == "" || msg.TimestampMs == 0 {
		t.Error("message id and timestamp must be set")
	}
	// Compose state cleared without waiting for any acknowledgment.
	if c.Text() != "" || c.Attachment() != nil {
		t.Error("compose state not cleared after send")
	}
}

func TestSendEmptyMessageRejectedLocally(t *testing.T) {
	pub := &fakePublisher{}
	c := New("u1", pub, &fakeUploader{})

	c.SetText("   ")
	if _, err := c.Send("u2"); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	if pub.attempts != 0 {
		t.Errorf("publish attempts = %d, want 0 (no network call)", pub.attempts)
	}
}

// A message with an attachment but empty content is valid.
func TestSendAttachmentOnly(t *testing.T) {
	pub := &fakePublisher{}
	ref := &wire.Attachment{URL: "/files/abc", Type: wire.AttachmentImage, OriginalFilename: "cat.png", FileSize: 3}
	c := New("u1", pub, &fakeUploader{ref: ref})

	if err := c.Attach(context.Background(), upload.File{Name: "cat.png", Size: 3, ContentType: "image/png", Reader: strings.NewReader("png")}, "u2"); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	msg, err := c.Send("u2")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Content != "" || msg.Attachment == nil || msg.Attachment.URL != "/files/abc" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestAttachFailureLeavesStateUntouched(t *testing.T) {
	c := New("u1", &fakePublisher{}, &fakeUploader{err: upload.ErrFileTooLarge})
	c.SetText("draft")

	err := c.Attach(context.Background(), upload.File{Name: "big.bin"}, "u2")
	if !errors.Is(err, upload.ErrFileTooLarge) {
		t.Fatalf("err = %v", err)
	}
	if c.Text() != "draft" || c.Attachment() != nil {
		t.Error("compose state must be untouched after failed upload")
	}
}

// Upload succeeded, publish failed: the text survives for retry, the
// attachment reference is discarded client-side.
func TestPublishFailureKeepsTextDiscardsAttachment(t *testing.T) {
	pub := &fakePublisher{err: errors.New("socket closed")}
	ref := &wire.Attachment{URL: "/files/abc", Type: wire.AttachmentDocument}
	c := New("u1", pub, &fakeUploader{ref: ref})

	c.SetText("important draft")
	if err := c.Attach(context.Background(), upload.File{Name: "doc.pdf"}, "u2"); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Send("u2"); err == nil {
		t.Fatal("Send should fail when publish fails")
	}
	if c.Text() != "important draft" {
		t.Errorf("text = %q, want draft preserved", c.Text())
	}
	if c.Attachment() != nil {
		t.Error("attachment reference must be discarded")
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	pub := &fakePublisher{}
	c := New("u1", pub, &fakeUploader{})

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		c.SetText("x")
		msg, err := c.Send("u2")
		if err != nil {
			t.Fatal(err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate message id %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}
