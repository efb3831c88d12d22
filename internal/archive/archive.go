// Package archive is the durable storage sink for edition payloads, backed
// by a Google Cloud Storage bucket. Every ingestion path writes the same
// object layout, so the sink's existence check is meaningful across paths.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Locator identifies one archived object in the storage sink.
type Locator struct {
	URL       string
	Path      string
	Container string
	Size      int64
}

// Sink is the durable edition archive. Implemented by *Client; callers hold
// a nil Sink when no archive bucket is configured. Archival is best-effort
// at every call site.
type Sink interface {
	Archive(ctx context.Context, data []byte, dest string, meta map[string]string) (Locator, error)
	Exists(ctx context.Context, dest string) (bool, error)
	FetchCached(ctx context.Context, dest string) ([]byte, bool, error)
}

// Client archives editions in a GCS bucket under a fixed object prefix.
type Client struct {
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
}

// New creates the archive client. An empty credentials file falls back to
// application default credentials.
func New(ctx context.Context, bucketName, prefix, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Client{
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		prefix:     prefix,
	}, nil
}

// Archive writes one edition payload to the bucket and returns its locator.
func (c *Client) Archive(ctx context.Context, data []byte, dest string, meta map[string]string) (Locator, error) {
	objectPath := c.objectPath(dest)
	w := c.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = "application/pdf"
	w.Metadata = meta

	if _, err := w.Write(data); err != nil {
		w.Close()
		return Locator{}, fmt.Errorf("writing gs://%s/%s: %w", c.bucketName, objectPath, err)
	}
	if err := w.Close(); err != nil {
		return Locator{}, fmt.Errorf("finalizing gs://%s/%s: %w", c.bucketName, objectPath, err)
	}

	return Locator{
		URL:       fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucketName, objectPath),
		Path:      objectPath,
		Container: c.bucketName,
		Size:      int64(len(data)),
	}, nil
}

// Exists reports whether the destination already holds an object.
func (c *Client) Exists(ctx context.Context, dest string) (bool, error) {
	_, err := c.bucket.Object(c.objectPath(dest)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking gs://%s/%s: %w", c.bucketName, c.objectPath(dest), err)
	}
	return true, nil
}

// FetchCached returns a previously archived payload, reporting absence
// without error.
func (c *Client) FetchCached(ctx context.Context, dest string) ([]byte, bool, error) {
	r, err := c.bucket.Object(c.objectPath(dest)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading gs://%s/%s: %w", c.bucketName, c.objectPath(dest), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("reading gs://%s/%s: %w", c.bucketName, c.objectPath(dest), err)
	}
	return data, true, nil
}

func (c *Client) objectPath(dest string) string {
	return path.Join(c.prefix, dest)
}

// DestFromPath converts a recorded object path back into the destination a
// sink addresses, stripping the object prefix the sink prepends. Delivery
// records store full object paths; sink calls take prefix-relative ones.
func DestFromPath(prefix, objectPath string) string {
	if prefix == "" {
		return objectPath
	}
	return strings.TrimPrefix(objectPath, strings.TrimSuffix(prefix, "/")+"/")
}
