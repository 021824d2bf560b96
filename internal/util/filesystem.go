package util

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// IsSameFilesystem checks if two paths are on the same filesystem
// by comparing their device IDs (st_dev).
// Returns (true, nil) if on same filesystem
// Returns (false, nil) if on different filesystems
// Returns (false, err) if paths cannot be stat'd
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// Unknown platform: fall back to copy+remove
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}

// MoveFile moves src to dst, creating dst's parent directory.
// Uses rename when both sides share a filesystem, otherwise copies through
// a .part file and removes the source once the copy is in place.
func MoveFile(src, dst string, cfg *RetryConfig) error {
	dir := filepath.Dir(dst)
	if err := RetryableMkdirAll(dir, 0o755, cfg); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	same, err := IsSameFilesystem(src, dir)
	if err != nil {
		return err
	}
	if same {
		return RetryableRename(src, dst, cfg)
	}

	if err := CopyFile(src, dst, cfg); err != nil {
		return err
	}
	return RetryableRemove(src, cfg)
}

// CopyFile copies src to dst atomically (write to dst.part, fsync, rename)
func CopyFile(src, dst string, cfg *RetryConfig) error {
	in, err := RetryableOpen(src, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := RetryableCreate(tmp, cfg)
	if err != nil {
		return err
	}

	if _, err := CopyWithContext(context.Background(), out, in, 0); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := RetryableRename(tmp, dst, cfg); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// IsWritableDir reports whether a file can be created inside dir
func IsWritableDir(dir string) error {
	f, err := os.CreateTemp(dir, ".awoo-writecheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// DefaultBufferSize is the copy buffer used when none is given
const DefaultBufferSize = 128 * 1024

// CopyWithContext copies src to dst, checking ctx between reads
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, bufferSize int) (int64, error) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	buf := make([]byte, bufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if ew == nil {
					ew = fmt.Errorf("invalid write result")
				}
			}
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er != io.EOF {
				return written, er
			}
			return written, nil
		}
	}
}
