// Package gcsuploader moves statement files to and from Google Cloud Storage.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// StorageService is what the import service and the CLI need from object storage.
type StorageService interface {
	// Fetch downloads the object named by a gs:// URI.
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)

	// Upload writes r to bucket/object and returns the object's gs:// URI.
	Upload(ctx context.Context, bucket, object string, r io.Reader) (string, error)
}

// Client is the GCS-backed StorageService. It holds one shared storage
// client for its lifetime.
type Client struct {
	client        *storage.Client
	uploadTimeout time.Duration
}

var _ StorageService = (*Client)(nil)

// NewClient creates a Client using Application Default Credentials.
func NewClient(ctx context.Context) (*Client, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating storage client: %w", err)
	}
	return &Client{client: c, uploadTimeout: 2 * time.Minute}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Fetch downloads the file bytes from the given GCS URI.
func (c *Client) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucket, object, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// Upload copies r into bucket/object.
func (c *Client) Upload(ctx context.Context, bucket, object string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copying to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalizing upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, object), nil
}

// UploadFile uploads a local statement file to svc under the given object name.
func UploadFile(ctx context.Context, svc StorageService, bucket, object, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()
	return svc.Upload(ctx, bucket, object, f)
}

// ParseURI splits gs://bucket/path/to/file into bucket and object path.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// Filename returns the last path element of a GCS URI,
// e.g. "gs://bucket/2024/estratto.csv" -> "estratto.csv".
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ObjectName builds the object path a statement upload is stored under.
func ObjectName(ownerID, accountID, filename string, at time.Time) string {
	return path.Join("statements", ownerID, accountID, at.UTC().Format("20060102T150405"), path.Base(filename))
}
