package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore keeps artifacts as gs://<bucket>/<prefix>/<name>.json.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore uses a shared storage client. The caller owns the client.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *GCSStore) object(name string) (*storage.ObjectHandle, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(path.Join(s.prefix, name+".json")), nil
}

func (s *GCSStore) Save(ctx context.Context, name string, v interface{}) error {
	obj, err := s.object(name)
	if err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("GCSStore.Save: encoding %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSStore.Save: writing %s: %w", name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSStore.Save: finalize %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) Load(ctx context.Context, name string, v interface{}) error {
	obj, err := s.object(name)
	if err != nil {
		return err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("GCSStore.Load: open reader %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("GCSStore.Load: reading %s: %w", name, err)
	}
	if err := decode(data, v); err != nil {
		return fmt.Errorf("GCSStore.Load: decoding %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	obj, err := s.object(name)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("GCSStore.Exists: %s: %w", name, err)
	}
	return true, nil
}

// ParseGCSURI splits gs://bucket/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// OpenSource opens a CSV source for streaming. gs:// URIs are read from GCS
// with client, which may be nil for local paths.
func OpenSource(ctx context.Context, client *storage.Client, uri string) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, "gs://") {
		f, err := os.Open(uri)
		if err != nil {
			return nil, fmt.Errorf("OpenSource: open file %q: %w", uri, err)
		}
		return f, nil
	}

	if client == nil {
		return nil, fmt.Errorf("OpenSource: no storage client for %s", uri)
	}
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("OpenSource: reading object %s/%s: %w", bucket, object, err)
	}
	return r, nil
}

// UploadFile uploads a local file to bucket under objectName.
func UploadFile(ctx context.Context, client *storage.Client, bucket, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	if strings.HasSuffix(strings.ToLower(filePath), ".csv") {
		w.ContentType = "text/csv"
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}
