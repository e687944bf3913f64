package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

// sniffLen matches the default read limit of mimetype.
const sniffLen = 3072

// Blob is an attachment on its way to storage. Size is negative when the
// caller does not know it up front.
type Blob struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

type AttachmentUploader struct {
	store   BlobStore
	maxSize int64
	now     func() time.Time
}

func NewAttachmentUploader(store BlobStore, maxSize int64) *AttachmentUploader {
	if maxSize <= 0 {
		maxSize = models.MaxAttachmentSize
	}
	return &AttachmentUploader{store: store, maxSize: maxSize, now: time.Now}
}

// Upload stores the blob under a fresh key scoped to the request and returns
// its descriptor. Oversized blobs are rejected before storage is contacted.
func (u *AttachmentUploader) Upload(ctx context.Context, requestID models.ObjectID, blob Blob) (*models.Attachment, error) {
	if blob.Reader == nil {
		return nil, fmt.Errorf("%w: attachment has no content", models.ErrValidation)
	}
	if blob.Size > u.maxSize {
		return nil, u.tooLarge(blob.Size)
	}

	body, size := blob.Reader, blob.Size
	var head []byte
	if size < 0 {
		buf, err := io.ReadAll(io.LimitReader(blob.Reader, u.maxSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: read attachment: %w", models.ErrUploadFailed, err)
		}
		if int64(len(buf)) > u.maxSize {
			return nil, u.tooLarge(int64(len(buf)))
		}
		body, size, head = bytes.NewReader(buf), int64(len(buf)), buf
	} else {
		body = io.LimitReader(blob.Reader, size)
	}

	contentType := strings.TrimSpace(blob.ContentType)
	if contentType == "" {
		if head == nil {
			head = make([]byte, sniffLen)
			n, err := io.ReadFull(body, head)
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%w: read attachment: %w", models.ErrUploadFailed, err)
			}
			head = head[:n]
			body = io.MultiReader(bytes.NewReader(head), body)
		}
		contentType = mimetype.Detect(head).String()
	}

	name := displayName(blob.Name)
	key := fmt.Sprintf("requests/%s/%d_%s", requestID, u.now().UnixMilli(), sanitizeName(name))

	handle, err := u.store.Put(ctx, key, body, size, contentType)
	if err != nil {
		log.Warnw(ctx, "attachment upload failed", "request_id", requestID, "key", key, "error", err)
		return nil, fmt.Errorf("%w: %w", models.ErrUploadFailed, err)
	}
	url := u.store.PublicURL(handle)
	if url == "" {
		return nil, fmt.Errorf("%w: no public url for %s", models.ErrUploadFailed, handle)
	}

	log.Infow(ctx, "attachment uploaded",
		"request_id", requestID,
		"key", key,
		"size", humanize.IBytes(uint64(size)),
		"mime_type", contentType,
	)
	return &models.Attachment{
		Name:     name,
		URL:      url,
		Size:     size,
		MimeType: contentType,
	}, nil
}

func (u *AttachmentUploader) tooLarge(size int64) error {
	return fmt.Errorf("%w: attachment is %s, limit is %s",
		models.ErrPayloadTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(u.maxSize)))
}

func displayName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
