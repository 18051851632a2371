// Package upload performs the out-of-band binary upload that must complete
// before a message referencing the attachment is published.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/craftlance/relay/internal/config"
	"github.com/craftlance/relay/internal/wire"
)

var (
	// ErrFileTooLarge means the file exceeds the limit for its scope.
	ErrFileTooLarge = errors.New("upload: file too large")
	// ErrUnsupportedType means the declared MIME type is not allow-listed.
	ErrUnsupportedType = errors.New("upload: unsupported file type")
	// ErrUpload wraps transport or server failures during the upload.
	ErrUpload = errors.New("upload: request failed")
)

// Scope selects which size limit applies. Limits are configuration, not
// universal constants.
type Scope string

const (
	ScopeChat           Scope = "chat"
	ScopeProjectBrief   Scope = "project_brief"
	ScopeWorkSubmission Scope = "work_submission"
)

// File describes the binary to upload. Size must be the true byte length;
// the server re-validates it.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// Uploader posts files to the storage collaborator and returns stable
// attachment references.
type Uploader struct {
	endpoint string
	token    string
	limits   config.Upload
	http     *http.Client
}

// New creates an uploader posting to endpoint with the given bearer token.
func New(endpoint, token string, limits config.Upload) *Uploader {
	return &Uploader{
		endpoint: endpoint,
		token:    token,
		limits:   limits,
		http:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// Upload validates the file against the scope's limit and the MIME
// allow-list, then posts it as a multipart request. It returns the stable
// attachment reference to embed in a ChatMessage. If the caller never
// publishes that message the blob is orphaned; cleanup is the backend's
// responsibility.
func (u *Uploader) Upload(ctx context.Context, scope Scope, f File, recipientID string) (*wire.Attachment, error) {
	limit := u.limit(scope)
	if limit > 0 && f.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d byte limit for %s", ErrFileTooLarge, f.Size, limit, scope)
	}
	if !u.allowed(f.ContentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, f.ContentType)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("recipient_id", recipientID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := mw.WriteField("scope", string(scope)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	part, err := mw.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if _, err := io.Copy(part, f.Reader); err != nil {
		return nil, fmt.Errorf("%w: read file: %v", ErrUpload, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpload, resp.StatusCode)
	}

	var ref struct {
		AttachmentURL    string `json:"attachment_url"`
		AttachmentType   string `json:"attachment_type"`
		OriginalFilename string `json:"original_filename"`
		FileSize         int64  `json:"file_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpload, err)
	}

	att := &wire.Attachment{
		URL:              ref.AttachmentURL,
		Type:             wire.AttachmentType(ref.AttachmentType),
		OriginalFilename: ref.OriginalFilename,
		FileSize:         ref.FileSize,
	}
	if att.Type == "" {
		att.Type = Classify(f.ContentType)
	}
	return att, nil
}

func (u *Uploader) limit(scope Scope) int64 {
	switch scope {
	case ScopeProjectBrief:
		return u.limits.ProjectBriefLimitBytes
	case ScopeWorkSubmission:
		return u.limits.WorkSubmissionLimitBytes
	default:
		return u.limits.ChatLimitBytes
	}
}

func (u *Uploader) allowed(contentType string) bool {
	if len(u.limits.AllowedTypes) == 0 {
		return false
	}
	return slices.Contains(u.limits.AllowedTypes, contentType)
}

// Classify maps a MIME type to the rendering class used by the UI.
func Classify(contentType string) wire.AttachmentType {
	if strings.HasPrefix(contentType, "image/") {
		return wire.AttachmentImage
	}
	return wire.AttachmentDocument
}
