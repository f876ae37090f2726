package submission

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"skillsnap/internal/common/storage"
	"skillsnap/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const sourceKeyPrefix = "sources/"

// SourceStore persists submitted source code in object storage. Objects
// are zstd compressed; the hash recorded on the submission covers the
// stored bytes, so the judge can verify integrity before decompressing.
type SourceStore struct {
	storage storage.ObjectStorage
	bucket  string
}

func NewSourceStore(objectStorage storage.ObjectStorage, bucket string) *SourceStore {
	return &SourceStore{storage: objectStorage, bucket: bucket}
}

// Upload compresses and stores the source, returning the object key and
// the sha256 of the stored bytes.
func (s *SourceStore) Upload(ctx context.Context, submissionID, source string) (string, string, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", "", errors.Wrapf(err, errors.StorageError, "create zstd writer")
	}
	if _, err := enc.Write([]byte(source)); err != nil {
		_ = enc.Close()
		return "", "", errors.Wrapf(err, errors.StorageError, "compress source")
	}
	if err := enc.Close(); err != nil {
		return "", "", errors.Wrapf(err, errors.StorageError, "flush zstd writer")
	}

	sum := sha256.Sum256(buf.Bytes())
	hash := hex.EncodeToString(sum[:])
	key := sourceKeyPrefix + submissionID + ".zst"

	reader := io.NopCloser(bytes.NewReader(buf.Bytes()))
	if err := s.storage.PutObject(ctx, s.bucket, key, reader, int64(buf.Len()), "application/zstd"); err != nil {
		return "", "", errors.Wrapf(err, errors.StorageError, "upload source")
	}
	return key, hash, nil
}

// Fetch downloads and decompresses a stored source, verifying the
// sha256 of the stored bytes first.
func (s *SourceStore) Fetch(ctx context.Context, key, expectedHash string) (string, error) {
	reader, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return "", errors.Wrapf(err, errors.StorageError, "download source")
	}
	defer reader.Close()

	hasher := sha256.New()
	compressed, err := io.ReadAll(io.TeeReader(reader, hasher))
	if err != nil {
		return "", errors.Wrapf(err, errors.StorageError, "read source")
	}
	if expectedHash != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, expectedHash) {
			return "", errors.New(errors.StorageError).WithMessage("source hash mismatch")
		}
	}

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", errors.Wrapf(err, errors.StorageError, "create zstd reader")
	}
	defer dec.Close()
	source, err := io.ReadAll(dec)
	if err != nil {
		return "", errors.Wrapf(err, errors.StorageError, "decompress source")
	}
	return string(source), nil
}
