package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// BlobStore keeps objects in a gocloud bucket (GCS, S3 or file-backed).
//
// Rename on an object store is copy+delete guarded by an existence probe, not
// an atomic operation. The duplicate-writer convergence rule assumes a
// pre-existing destination was completely written by another attempt; blob
// writes are all-or-nothing on commit for the supported backends, which is
// what makes that assumption hold.
type BlobStore struct {
	bucket *blob.Bucket
	url    string
}

// NewBlobStore opens a bucket by gocloud URL, e.g. "gs://bucket" or
// "s3://bucket?region=us-east-1".
func NewBlobStore(ctx context.Context, url string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return &BlobStore{bucket: bucket, url: url}, nil
}

// Create opens a writer for key, failing with ErrExists if present.
func (s *BlobStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	exists, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", key, err)
	}
	if exists {
		return nil, fmt.Errorf("create %s: %w", key, ErrExists)
	}

	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}
	return w, nil
}

// Open opens a reader for key.
func (s *BlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("open %s: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return r, nil
}

// Rename copies oldKey to newKey and deletes oldKey, failing with ErrExists
// if the destination is already present.
func (s *BlobStore) Rename(ctx context.Context, oldKey, newKey string) error {
	exists, err := s.bucket.Exists(ctx, newKey)
	if err != nil {
		return fmt.Errorf("probe %s: %w", newKey, err)
	}
	if exists {
		return fmt.Errorf("rename %s to %s: %w", oldKey, newKey, ErrExists)
	}

	if err := s.bucket.Copy(ctx, newKey, oldKey, nil); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("rename %s to %s: %w", oldKey, newKey, ErrNotExist)
		}
		return fmt.Errorf("copy %s to %s: %w", oldKey, newKey, err)
	}

	if err := s.bucket.Delete(ctx, oldKey); err != nil {
		return fmt.Errorf("delete %s after copy: %w", oldKey, err)
	}
	return nil
}

// Delete removes key. Absent keys are ignored.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns keys under prefix, sorted lexically.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("list %s: %w", prefix, ErrNotExist)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is present.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.url + "/" + key
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
