package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// MirrorStore is the durable write-through cache for segment bytes. The
// mirror is never authoritative: a miss just means the proxy goes upstream.
type MirrorStore interface {
	UploadSegment(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	FindByKey(ctx context.Context, key string) (bool, error)
	OpenReadStream(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// MirrorKey builds the deterministic object key for a segment. index < 1
// addresses the fast-path "last" segment.
func MirrorKey(videoId, quality string, index int) string {
	if index < 1 {
		return fmt.Sprintf("videos/%s/%s/segment-last.ts", videoId, quality)
	}
	return fmt.Sprintf("videos/%s/%s/segment-%d.ts", videoId, quality, index)
}

type minioMirror struct {
	client *minio.Client
	bucket string
}

func NewMirrorStore(client *minio.Client, bucket string) MirrorStore {
	return &minioMirror{client: client, bucket: bucket}
}

func (m *minioMirror) UploadSegment(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "video/mp2t"
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *minioMirror) FindByKey(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *minioMirror) OpenReadStream(ctx context.Context, key string) (io.ReadCloser, string, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, "", err
	}
	return obj, stat.ContentType, nil
}
