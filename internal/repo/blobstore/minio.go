package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

var (
	_ usecase.BlobStore = (*MinioStore)(nil)
	_ usecase.BlobStore = NoopBlobStore{}
)

var ErrNotConfigured = errors.New("blob storage is not configured")

const bucketSetupTimeout = 10 * time.Second

// MinioStore keeps attachments in an S3 compatible bucket that is readable
// without credentials.
type MinioStore struct {
	bucket        string
	publicBaseURL string
	client        *minio.Client

	// bucketMu guards bucketReady, which is only set once the bucket check
	// succeeded so a failed check runs again on the next Put.
	bucketMu    sync.Mutex
	bucketReady bool
}

func NewMinioStore(conf config.StorageConfig) (*MinioStore, error) {
	endpoint := strings.TrimSpace(conf.Endpoint)
	if endpoint == "" {
		return nil, errors.New("blobstore: endpoint is required")
	}
	bucket := strings.TrimSpace(conf.Bucket)
	if bucket == "" {
		return nil, errors.New("blobstore: bucket is required")
	}

	client, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: create client: %w", err)
	}

	base := strings.TrimSpace(conf.PublicBaseURL)
	if base == "" {
		scheme := "http"
		if conf.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + hostOf(endpoint)
	}
	return &MinioStore{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        client,
	}, nil
}

// Put uploads r under key and returns the key as the handle. A negative size
// streams the object with multipart upload.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" {
		return "", errors.New("blobstore: object key is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put object: %w", err)
	}
	log.Debugw(ctx, "object stored", "bucket", s.bucket, "key", key, "size", info.Size)
	return key, nil
}

func (s *MinioStore) PublicURL(handle string) string {
	segments := strings.Split(strings.Trim(handle, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, strings.Join(segments, "/"))
}

// ensureBucket creates the bucket with a public-read policy on first use. It
// runs detached from the caller so one cancelled request cannot fail it.
func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bucketSetupTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blobstore: check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("blobstore: create bucket: %w", err)
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.bucket)
		if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
			return fmt.Errorf("blobstore: set bucket policy: %w", err)
		}
		log.Infow(ctx, "bucket created", "bucket", s.bucket)
	}
	s.bucketReady = true
	return nil
}

func hostOf(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return endpoint
}

// NoopBlobStore rejects every upload. It stands in when storage is disabled.
type NoopBlobStore struct{}

func (NoopBlobStore) Put(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", ErrNotConfigured
}

func (NoopBlobStore) PublicURL(string) string { return "" }
