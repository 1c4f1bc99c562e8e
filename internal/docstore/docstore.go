// Package docstore stores extracted document text in MinIO.
package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store reads and writes per-document text objects in a single bucket.
// Objects are keyed "<documentID>.txt".
type Store struct {
	client *minio.Client
	bucket string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to MinIO. It does not create the bucket; call EnsureBucket
// during startup.
func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	return &Store{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectKey(documentID string) string {
	return documentID + ".txt"
}

// PutText stores the extracted text for a document.
func (s *Store) PutText(ctx context.Context, documentID, text string) error {
	reader := strings.NewReader(text)
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(documentID), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put text for %s: %w", documentID, err)
	}
	return nil
}

// GetText returns the extracted text for a document. The second return is
// false when no object exists for the ID.
func (s *Store) GetText(ctx context.Context, documentID string) (string, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(documentID), minio.GetObjectOptions{})
	if err != nil {
		return "", false, fmt.Errorf("get text for %s: %w", documentID, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		if isNoSuchKey(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read text for %s: %w", documentID, err)
	}
	return buf.String(), true, nil
}

// Exists reports whether text is stored for a document.
func (s *Store) Exists(ctx context.Context, documentID string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(documentID), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat text for %s: %w", documentID, err)
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
