package util

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ctxReader aborts a long read once the context is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// HashReader returns the lowercase hex MD5 of everything read from r
func HashReader(ctx context.Context, r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: r}); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest computes the MD5 of file content
// Used to verify cached assets against the digest declared by the store
func FileDigest(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sum, err := HashReader(ctx, f)
	if err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return sum, nil
}

// VerifyFileDigest checks that the file at path hashes to want.
// Returns ErrCorrupt (wrapped) on mismatch and the open error when the file is missing.
func VerifyFileDigest(ctx context.Context, path, want string) error {
	got, err := FileDigest(ctx, path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s has %s, want %s", ErrCorrupt, path, got, want)
	}
	return nil
}

// IsDigest reports whether s looks like a hex MD5 digest
func IsDigest(s string) bool {
	if len(s) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
