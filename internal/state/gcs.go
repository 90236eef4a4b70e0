package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	logx "wqbot/pkg/logx"
)

type gcsBackend struct {
	client *storage.Client
	bucket string
	object string
	log    logx.Logger
}

func openGCS(ctx context.Context, cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.GCS.Bucket) == "" {
		return nil, errors.New("state.gcs.bucket is required for gcs driver")
	}
	object := cfg.GCS.Object
	if object == "" {
		object = "wqbot/state.json"
	}
	var opts []option.ClientOption
	if f := strings.TrimSpace(cfg.GCS.CredentialsFile); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &gcsBackend{
		client: client,
		bucket: cfg.GCS.Bucket,
		object: object,
		log:    log.With(logx.String("driver", "gcs"), logx.String("bucket", cfg.GCS.Bucket)),
	}, nil
}

func (b *gcsBackend) Load(ctx context.Context) (Snapshot, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open state object: %w", err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			b.log.Warn("close state reader", logx.Err(cerr))
		}
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read state object: %w", err)
	}
	return DecodeSnapshot(data)
}

// Save uploads a new object generation; readers see the old one until Close succeeds.
func (b *gcsBackend) Save(ctx context.Context, s Snapshot) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	w := b.client.Bucket(b.bucket).Object(b.object).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		if cerr := w.Close(); cerr != nil {
			b.log.Warn("close state writer after error", logx.Err(cerr))
		}
		return fmt.Errorf("write state object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close state writer: %w", err)
	}
	return nil
}

func (b *gcsBackend) Close() error { return b.client.Close() }
