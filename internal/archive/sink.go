package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Sink stores a finished archive and returns where it went.
type Sink interface {
	Store(ctx context.Context, name string, data []byte) (string, error)
}

// LocalSink writes archives into a directory.
type LocalSink struct {
	Dir string
}

// Store writes data to Dir/name.
func (s LocalSink) Store(_ context.Context, name string, data []byte) (string, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Error.Wrap(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", Error.Wrap(err)
	}
	return path, nil
}

// MinioConfig configures a MinioSink.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	Folder    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// MinioSink uploads archives to a MinIO or S3 compatible bucket.
type MinioSink struct {
	client *minio.Client
	bucket string
	folder string
	log    *zap.Logger
}

// NewMinioSink creates the client. No request is made until Store.
func NewMinioSink(log *zap.Logger, cfg MinioConfig) (*MinioSink, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, Error.New("failed to initialize MinIO client: %v", err)
	}

	folder := strings.Trim(cfg.Folder, "/")
	if folder != "" {
		folder += "/"
	}
	return &MinioSink{
		client: client,
		bucket: cfg.Bucket,
		folder: folder,
		log:    log.Named("minio"),
	}, nil
}

// ObjectKey returns the key an archive named name is stored under.
func (s *MinioSink) ObjectKey(name string) string {
	return sanitizeKey(s.folder + name)
}

// sanitizeKey normalizes separators and drops characters that object
// stores and presigned URLs handle badly.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")

	segments := strings.Split(key, "/")
	kept := segments[:0]
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(segment, "&", "and")
		segment = strings.ReplaceAll(segment, "?", "")
		segment = strings.ReplaceAll(segment, "#", "")
		kept = append(kept, segment)
	}
	return strings.Join(kept, "/")
}

// Store uploads data and returns bucket/key.
func (s *MinioSink) Store(ctx context.Context, name string, data []byte) (string, error) {
	key := s.ObjectKey(name)
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		if minioErr, ok := err.(minio.ErrorResponse); ok {
			s.log.Warn("upload rejected",
				zap.String("code", minioErr.Code),
				zap.String("message", minioErr.Message),
				zap.String("bucket", minioErr.BucketName),
				zap.String("key", minioErr.Key))
		}
		return "", Error.New("upload %s/%s: %v", s.bucket, key, err)
	}
	if info.Size != int64(len(data)) {
		return "", Error.New("upload %s/%s: size mismatch: sent %d, stored %d", s.bucket, key, len(data), info.Size)
	}
	return s.bucket + "/" + key, nil
}
