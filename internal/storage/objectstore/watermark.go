package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

const watermarkKey = "watermarks/last.json"

// WatermarkStore keeps the watermark as a JSON timestamp object.
type WatermarkStore struct {
	client *minio.Client
	bucket string
}

func NewWatermarkStore(client *minio.Client, bucket string) *WatermarkStore {
	return &WatermarkStore{client: client, bucket: bucket}
}

func (s *WatermarkStore) Read(ctx context.Context) (time.Time, bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, watermarkKey, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("stat watermark: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, watermarkKey, minio.GetObjectOptions{})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get watermark: %w", err)
	}
	defer obj.Close()

	b, err := io.ReadAll(obj)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}

	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return time.Time{}, false, fmt.Errorf("decode watermark: %w", err)
	}
	if t.IsZero() {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

func (s *WatermarkStore) Write(ctx context.Context, t time.Time) error {
	b, err := json.Marshal(t.UTC().Truncate(time.Second))
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, watermarkKey, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put watermark: %w", err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *WatermarkStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
