// Package fileutil holds small filesystem helpers: crash-safe replacement of
// a file's contents, streaming digests and plain copies.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var renameFunc = os.Rename

// ValidateFunc checks the bytes read back from a temp file before it becomes
// visible.
type ValidateFunc func(data []byte) error

// WriteFileAtomic replaces path with data. The bytes go to a temp file in the
// same directory, are fsynced, read back and compared (and passed to validate
// when non-nil), then renamed over path. The directory is synced on a
// best-effort basis. On any failure the previous contents of path are left
// untouched.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, validate ValidateFunc) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}

	readBack, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read back temp: %w", err)
	}
	if !bytes.Equal(readBack, data) {
		return errors.New("read back temp: content mismatch")
	}
	if validate != nil {
		if err := validate(readBack); err != nil {
			return fmt.Errorf("validate temp: %w", err)
		}
	}

	if err := renameFunc(tmpName, path); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	committed = true
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader returns the hex SHA-256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// MoveAside renames path to dst, falling back to copy and remove when a
// rename is not possible.
func MoveAside(path, dst string) error {
	if err := renameFunc(path, dst); err == nil {
		return nil
	}
	if err := CopyFile(path, dst); err != nil {
		return err
	}
	return os.Remove(path)
}
