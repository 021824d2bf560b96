package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestIsSameFilesystem(t *testing.T) {
	tempDir := t.TempDir()

	sub := filepath.Join(tempDir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	same, err := IsSameFilesystem(tempDir, sub)
	if err != nil {
		t.Fatalf("IsSameFilesystem failed: %v", err)
	}
	if !same {
		t.Error("Expected a directory and its child to share a filesystem")
	}

	if _, err := IsSameFilesystem(tempDir, filepath.Join(tempDir, "missing")); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestMoveFile(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "legacy", "ab", "cd", "abcd.png")
	dst := filepath.Join(tempDir, "cache", "123", "1123.png")

	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst, nil); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("Expected source to be gone, stat err = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("Failed to read destination: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Destination content = %q, want %q", data, "payload")
	}
}

func TestCopyFile_LeavesNoPartFile(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.bin")
	dst := filepath.Join(tempDir, "dst.bin")

	if err := os.WriteFile(src, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst, nil); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}
	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("Expected .part file to be renamed away")
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("CopyFile should keep the source: %v", err)
	}
}

func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FileDigest(context.Background(), path)
	if err != nil {
		t.Fatalf("FileDigest failed: %v", err)
	}
	const want = "5d41402abc4b2a76b9719d911017c592"
	if got != want {
		t.Errorf("FileDigest = %s, want %s", got, want)
	}

	if err := VerifyFileDigest(context.Background(), path, "5D41402ABC4B2A76B9719D911017C592"); err != nil {
		t.Errorf("Expected case-insensitive match, got %v", err)
	}

	err = VerifyFileDigest(context.Background(), path, "00000000000000000000000000000000")
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected ErrCorrupt, got %v", err)
	}

	err = VerifyFileDigest(context.Background(), filepath.Join(t.TempDir(), "nope"), want)
	if err == nil || errors.Is(err, ErrCorrupt) {
		t.Errorf("Expected open error for missing file, got %v", err)
	}
}

func TestFileDigest_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, make([]byte, 1<<16), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := FileDigest(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestIsDigest(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"5d41402abc4b2a76b9719d911017c592", true},
		{"5D41402ABC4B2A76B9719D911017C592", true},
		{"5d41402abc4b2a76b9719d911017c59", false},
		{"zz41402abc4b2a76b9719d911017c592", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsDigest(tt.in); got != tt.want {
			t.Errorf("IsDigest(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsWritableDir(t *testing.T) {
	if err := IsWritableDir(t.TempDir()); err != nil {
		t.Errorf("Expected temp dir to be writable: %v", err)
	}
	if err := IsWritableDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing dir")
	}
}
