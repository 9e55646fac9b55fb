package archive

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

type gcsBackend struct {
	bucket string
	client *storage.Client
}

func newGCS(cfg Config) (Backend, error) {
	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "new gcs client")
	}
	return &gcsBackend{bucket: cfg.Bucket, client: client}, nil
}

func (b *gcsBackend) Name() string { return "gcs" }

func (b *gcsBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "gcs write")
	}
	return errors.Wrap(w.Close(), "gcs close")
}
