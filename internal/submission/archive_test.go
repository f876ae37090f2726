package submission

import (
	"context"
	"strings"
	"testing"

	"skillsnap/pkg/errors"
)

func TestSourceStoreRoundTrip(t *testing.T) {
	store := NewSourceStore(newMemStorage(), "submissions")
	source := "def main():\n    print(input())\n"

	key, hash, err := store.Upload(context.Background(), "sub-1", source)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(key, "sources/") || !strings.HasSuffix(key, ".zst") {
		t.Fatalf("key = %q", key)
	}
	if len(hash) != 64 {
		t.Fatalf("hash = %q, want 64 hex chars", hash)
	}

	got, err := store.Fetch(context.Background(), key, hash)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != source {
		t.Fatalf("fetched source = %q, want %q", got, source)
	}
}

func TestSourceStoreHashMismatch(t *testing.T) {
	store := NewSourceStore(newMemStorage(), "submissions")

	key, _, err := store.Upload(context.Background(), "sub-1", "print(42)")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	_, err = store.Fetch(context.Background(), key, strings.Repeat("0", 64))
	if errors.GetCode(err) != errors.StorageError {
		t.Fatalf("error code = %d, want StorageError", errors.GetCode(err))
	}
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("err = %v, want hash mismatch", err)
	}
}

func TestSourceStoreFetchMissingObject(t *testing.T) {
	store := NewSourceStore(newMemStorage(), "submissions")
	if _, err := store.Fetch(context.Background(), "sources/absent.zst", ""); err == nil {
		t.Fatal("expected error for a missing object")
	}
}
