// Package archive implements optional off-box backup of each written
// snapshot (the append-only log is not archived), mirroring the multi-cloud backend
// abstraction the teacher repo uses for its object storage providers
// (SPEC_FULL.md DOMAIN STACK). A nil/none Backend is a legitimate,
// fully-functional configuration — archival is strictly additive to the
// on-disk snapshot/AOF, never a replacement for them.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package archive

import (
	"bytes"
	"context"

	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
)

// Backend uploads a named blob of bytes to off-box storage.
type Backend interface {
	// Name identifies the backend for logging ("s3", "azure", "gcs").
	Name() string
	// Put uploads data under key (e.g. "snapshots/2026-07-30T12:00:00Z.snap.lz4").
	Put(ctx context.Context, key string, data []byte) error
}

// Compress lz4-compresses data; archived artifacts are compressed before
// upload even though the live on-disk snapshot/AOF stay plaintext (spec.md
// §9 requires the live files remain a "flat text file").
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "lz4 close")
	}
	return buf.Bytes(), nil
}

// New builds the Backend named by kind ("s3", "azure", "gcs", or "" /
// "none" for no archival). cfg carries the backend-specific bucket/
// container/credential configuration.
func New(kind string, cfg Config) (Backend, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "s3":
		return newS3(cfg)
	case "azure":
		return newAzure(cfg)
	case "gcs":
		return newGCS(cfg)
	default:
		return nil, errors.Errorf("unknown archive backend %q", kind)
	}
}

// Config is the union of configuration every backend might need; each
// backend reads only the fields relevant to it.
type Config struct {
	Bucket            string // s3 bucket / gcs bucket
	Region            string // s3 region
	AzureAccountURL   string // e.g. https://<account>.blob.core.windows.net
	AzureContainer    string
}
