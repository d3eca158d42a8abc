package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/minio/minio-go/v7"

	"flood_etl/internal/domain"
)

// RawStore keeps the verbatim record list of each kind as gzipped JSON at
// raw/<kind>/latest.json.gz.
type RawStore struct {
	client *minio.Client
	bucket string
}

func NewRawStore(client *minio.Client, bucket string) *RawStore {
	return &RawStore{client: client, bucket: bucket}
}

func rawKey(kind domain.EntityKind) string {
	return "raw/" + string(kind) + "/latest.json.gz"
}

func (s *RawStore) Save(ctx context.Context, kind domain.EntityKind, records []domain.Record) error {
	if records == nil {
		records = []domain.Record{}
	}
	body, err := encodeJSONGZ(records)
	if err != nil {
		return fmt.Errorf("encode raw %s: %w", kind, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, rawKey(kind), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		UserMetadata: map[string]string{
			"kind":    string(kind),
			"records": strconv.Itoa(len(records)),
		},
	})
	if err != nil {
		return fmt.Errorf("put raw %s: %w", kind, err)
	}
	return nil
}

// Load returns the last saved records of kind, or nil when none were saved.
func (s *RawStore) Load(ctx context.Context, kind domain.EntityKind) ([]domain.Record, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, rawKey(kind), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw %s: %w", kind, err)
	}
	defer obj.Close()

	records, err := decodeJSONGZ(obj)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read raw %s: %w", kind, err)
	}
	return records, nil
}

func encodeJSONGZ(records []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(records); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJSONGZ(r io.Reader) ([]domain.Record, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	dec.UseNumber()

	var records []domain.Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}
