package usecase_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadRejectsOversizedBlob(t *testing.T) {
	t.Parallel()

	const size = 12 << 20

	t.Run("declared size", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		u := usecase.NewAttachmentUploader(blobs, models.MaxAttachmentSize)

		att, err := u.Upload(t.Context(), models.NewObjectID(), usecase.Blob{
			Name:   "scan.tiff",
			Size:   size,
			Reader: bytesOf(size),
		})
		assert.ErrorIs(t, err, models.ErrPayloadTooLarge)
		assert.Contains(t, err.Error(), "12 MiB")
		assert.Nil(t, att)
		assert.Zero(t, blobs.Puts())
	})

	t.Run("unknown size", func(t *testing.T) {
		t.Parallel()
		blobs := newMemBlobStore()
		u := usecase.NewAttachmentUploader(blobs, models.MaxAttachmentSize)

		att, err := u.Upload(t.Context(), models.NewObjectID(), usecase.Blob{
			Name:   "scan.tiff",
			Size:   -1,
			Reader: bytesOf(size),
		})
		assert.ErrorIs(t, err, models.ErrPayloadTooLarge)
		assert.Nil(t, att)
		assert.Zero(t, blobs.Puts())
	})
}

func TestUploadAtLimit(t *testing.T) {
	t.Parallel()

	blobs := newMemBlobStore()
	u := usecase.NewAttachmentUploader(blobs, 1024)

	att, err := u.Upload(t.Context(), models.NewObjectID(), usecase.Blob{
		Name:        "notes.txt",
		ContentType: "text/plain",
		Size:        -1,
		Reader:      bytesOf(1024),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1024, att.Size)
}

func TestUploadDescriptor(t *testing.T) {
	t.Parallel()

	blobs := newMemBlobStore()
	u := usecase.NewAttachmentUploader(blobs, models.MaxAttachmentSize)
	id := models.NewObjectID()
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	att, err := u.Upload(t.Context(), id, usecase.Blob{
		Name:   `C:\Users\sam\My Photo (1).png`,
		Size:   int64(len(png)),
		Reader: bytes.NewReader(png),
	})
	require.NoError(t, err)

	assert.Equal(t, "My Photo (1).png", att.Name)
	assert.Equal(t, "image/png", att.MimeType)
	assert.EqualValues(t, len(png), att.Size)
	assert.True(t, strings.HasPrefix(att.URL, "https://files.test/requests/"+string(id)+"/"), att.URL)
	assert.True(t, strings.HasSuffix(att.URL, "_My_Photo__1_.png"), att.URL)

	key := strings.TrimPrefix(att.URL, "https://files.test/")
	assert.Equal(t, png, blobs.objects[key], "sniffed bytes are still uploaded")
	assert.Equal(t, "image/png", blobs.types[key])
}

func TestUploadFailure(t *testing.T) {
	t.Parallel()

	blobs := newMemBlobStore()
	blobs.failErr = errors.New("connection reset")
	u := usecase.NewAttachmentUploader(blobs, models.MaxAttachmentSize)

	att, err := u.Upload(t.Context(), models.NewObjectID(), usecase.Blob{
		Name:        "a.txt",
		ContentType: "text/plain",
		Size:        3,
		Reader:      strings.NewReader("abc"),
	})
	assert.ErrorIs(t, err, models.ErrUploadFailed)
	assert.Nil(t, att)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestUploadReadFailure(t *testing.T) {
	t.Parallel()

	u := usecase.NewAttachmentUploader(newMemBlobStore(), models.MaxAttachmentSize)
	_, err := u.Upload(t.Context(), models.NewObjectID(), usecase.Blob{Name: "x", Size: -1, Reader: failingReader{}})
	assert.ErrorIs(t, err, models.ErrUploadFailed)
}
