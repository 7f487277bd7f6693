package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"
)

func TestLocalAvatarStore(t *testing.T) {
	store, err := NewLocalAvatarStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	content := "fake png bytes"
	wantHash := sha256.Sum256([]byte(content))

	hash, size, err := store.Save(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if hash != hex.EncodeToString(wantHash[:]) {
		t.Errorf("unexpected hash %s", hash)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}

	// Saving the same content again is a no-op with the same address.
	hash2, _, err := store.Save(strings.NewReader(content))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if hash2 != hash {
		t.Errorf("hash changed on re-save: %s != %s", hash2, hash)
	}

	rc, err := store.Get(hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != content {
		t.Errorf("content not round-tripped: %q", data)
	}

	if _, err := store.Get("0000000000"); err == nil {
		t.Error("expected error for unknown hash")
	}
}
