package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCS stores objects in a Google Cloud Storage bucket under a prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a storage client using application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must be provided to create a gcs store")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// Save writes the object only if it does not already exist.
func (g *GCS) Save(ctx context.Context, data []byte, originalName string) (string, string, error) {
	name := UniqueName(originalName)
	objectName := g.prefix + name

	w := g.client.Bucket(g.bucket).Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", "", fmt.Errorf("failed to write to GCS: %w", preconditionErr(objectName, err))
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("failed to finalize GCS write: %w", preconditionErr(objectName, err))
	}
	return gcsPath(g.bucket, objectName), name, nil
}

func (g *GCS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, object, err := parseGCSPath(path)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	bucket, object, err := parseGCSPath(path)
	if err != nil {
		return err
	}
	if err := g.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func preconditionErr(objectName string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == 412 {
		slog.Error("object already exists, refusing to overwrite", "object", objectName)
		return fmt.Errorf("object %s already exists: %w", objectName, err)
	}
	return err
}

func gcsPath(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

func parseGCSPath(path string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(path, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gcs path: %q", path)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gcs path: %q", path)
	}
	return bucket, object, nil
}
