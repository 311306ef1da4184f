package localfs

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestSaveAndOpenNestedKey(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, "sha256/ab/abcdef", strings.NewReader("first")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "sha256/ab/abcdef", strings.NewReader("second")); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	rc, err := store.Open(ctx, "sha256/ab/abcdef")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "first" {
		t.Fatalf("expected content-addressed object to keep its first write, got %q", body)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"", "../outside", "/etc/passwd"} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestOpenMissingObject(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := store.Open(context.Background(), "sha256/zz/missing"); err == nil {
		t.Fatalf("expected error for missing object")
	}
}
