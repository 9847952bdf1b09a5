package pathdata

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/23skdu/longbow-quant/internal/logger"
)

// GCSStore reads and writes tables as IPC objects in one bucket.
type GCSStore struct {
	Bucket string
}

// ParseURL splits gs://bucket/object.
func ParseURL(u string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(u, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// url: %q", u)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs url %q needs a bucket and an object", u)
	}
	return bucket, object, nil
}

// ReadGCS reads a table from a gs://bucket/object url.
func ReadGCS(ctx context.Context, url string) (*Table, error) {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	return (&GCSStore{Bucket: bucket}).Read(ctx, object)
}

func (s *GCSStore) Read(ctx context.Context, object string) (*Table, error) {
	log := logger.Log.With("pathdata")
	url := "gs://" + s.Bucket + "/" + object

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	startedAt := time.Now()
	r, err := client.Bucket(s.Bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object from GCS %q: %w", url, err)
	}
	defer r.Close()

	t, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", url, err)
	}
	log.Info("read path data from GCS", "url", url, "paths", t.N, "columns", len(t.Columns), "duration", time.Since(startedAt))
	return t, nil
}

func (s *GCSStore) Write(ctx context.Context, object string, t *Table) error {
	log := logger.Log.With("pathdata")
	url := "gs://" + s.Bucket + "/" + object

	var buf bytes.Buffer
	if err := Write(&buf, t); err != nil {
		return err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	startedAt := time.Now()
	w := client.Bucket(s.Bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/vnd.apache.arrow.file"
	n, err := buf.WriteTo(w)
	if err != nil {
		w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}
	log.Info("wrote path data to GCS", "url", url, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
