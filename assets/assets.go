// Package assets mirrors inline input media to S3 compatible storage so
// vendors can fetch it by URL.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mostlygeek/genstudio/mapper"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string

	// PublicURL overrides the base of returned object URLs, e.g. a CDN.
	PublicURL string
}

// Enabled reports whether enough is configured to create a mirror.
func (o Options) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != ""
}

// objectStore is the subset of *minio.Client the mirror uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// Mirror uploads media and hands back public URLs.
type Mirror struct {
	store  objectStore
	opts   Options
	logger Logger
}

// New connects to the endpoint and makes sure the bucket exists and is
// publicly readable.
func New(ctx context.Context, opts Options, logger Logger) (*Mirror, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Endpoint, err)
	}
	return newMirror(ctx, client, opts, logger)
}

func newMirror(ctx context.Context, store objectStore, opts Options, logger Logger) (*Mirror, error) {
	m := &Mirror{store: store, opts: opts, logger: logger}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mirror) ensureBucket(ctx context.Context) error {
	found, err := m.store.BucketExists(ctx, m.opts.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.opts.Bucket, err)
	}
	if !found {
		if err := m.store.MakeBucket(ctx, m.opts.Bucket, minio.MakeBucketOptions{Region: m.opts.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", m.opts.Bucket, err)
		}
		if m.logger != nil {
			m.logger.Infof("<assets> created bucket %s", m.opts.Bucket)
		}
	}

	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, m.opts.Bucket)
	if err := m.store.SetBucketPolicy(ctx, m.opts.Bucket, policy); err != nil && m.logger != nil {
		// not every S3 compatible service supports bucket policies
		m.logger.Warnf("<assets> set bucket policy on %s: %v", m.opts.Bucket, err)
	}
	return nil
}

// Publish uploads the media under prefix/<uuid><ext> and returns its URL.
// URL media is returned unchanged.
func (m *Mirror) Publish(ctx context.Context, media *mapper.Media) (string, error) {
	if media.IsURL() {
		return media.URL, nil
	}

	key := path.Join(m.opts.Prefix, uuid.NewString()+media.Extension())
	_, err := m.store.PutObject(ctx, m.opts.Bucket, key, bytes.NewReader(media.Data), int64(len(media.Data)), minio.PutObjectOptions{
		ContentType: media.MIME,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return m.PublicURL(key), nil
}

// PublicURL builds the URL an object is readable at.
func (m *Mirror) PublicURL(key string) string {
	if m.opts.PublicURL != "" {
		return strings.TrimRight(m.opts.PublicURL, "/") + "/" + key
	}

	endpoint := strings.TrimSuffix(m.opts.Endpoint, "/")
	if strings.Contains(endpoint, "amazonaws.com") {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", m.opts.Bucket, key)
	}
	scheme := "http"
	if m.opts.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, m.opts.Bucket, key)
}
