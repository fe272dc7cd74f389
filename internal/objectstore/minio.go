package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
}

// objectPutter is the part of *minio.Client the mirror uses.
type objectPutter interface {
	PutObject(
		ctx context.Context,
		bucket, object string,
		reader io.Reader,
		size int64,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
}

// ConnectionInfoMirror uploads every connection-info record written locally
// to a bucket so consumers without access to the deployer host can read it.
type ConnectionInfoMirror struct {
	client objectPutter
	bucket string
	key    string
}

func NewConnectionInfoMirror(client *minio.Client, cfg Config) *ConnectionInfoMirror {
	return &ConnectionInfoMirror{client: client, bucket: cfg.Bucket, key: cfg.ObjectKey}
}

func (m *ConnectionInfoMirror) WriteConnectionInfo(ctx context.Context, ci *store.ConnectionInfo) error {
	b, err := json.MarshalIndent(ci, "", "    ")
	if err != nil {
		return err
	}
	info, err := m.client.PutObject(
		ctx,
		m.bucket,
		m.key,
		bytes.NewReader(b),
		int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("put connection info to %s/%s: %w", m.bucket, m.key, err)
	}
	ctxlog.FromContext(ctx).Info(
		"connection info mirrored",
		"bucket", m.bucket, "key", m.key, "etag", info.ETag,
	)
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
