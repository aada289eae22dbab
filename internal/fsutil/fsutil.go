// Package fsutil provides the filesystem primitives the pipeline needs to
// be safe on network mounts: plain byte copies with explicit permission
// setting, device-aware moves, and disk-space queries.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies src to dst by bytes and sets perm explicitly. It never
// chowns: library mounts commonly squash ownership and reject chown, so
// permission policy is copy-then-chmod only.
func CopyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy failed: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to flush destination: %w", err)
	}

	// Re-assert perm: umask may have narrowed the create mode.
	if err := os.Chmod(dst, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return nil
}

// SameDevice reports whether two paths live on the same filesystem by
// comparing device IDs. Either path's parent is used if the path itself
// does not exist yet.
func SameDevice(a, b string) (bool, error) {
	devA, err := deviceID(a)
	if err != nil {
		return false, err
	}
	devB, err := deviceID(b)
	if err != nil {
		return false, err
	}
	return devA == devB, nil
}

func deviceID(path string) (uint64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		info, err = os.Stat(filepath.Dir(path))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("no device information for %s", path)
	}
	return uint64(st.Dev), nil
}

// MoveFile moves src to dst: a rename when both are on the same
// filesystem, otherwise copy, byte-size verify, then unlink. The source is
// only removed after the destination is proven complete.
func MoveFile(src, dst string, perm os.FileMode) error {
	same, err := SameDevice(src, dst)
	if err != nil {
		return err
	}
	if same {
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("rename failed: %w", err)
		}
		return nil
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if err := CopyFile(src, dst, perm); err != nil {
		return err
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("failed to stat destination: %w", err)
	}
	if dstInfo.Size() != srcInfo.Size() {
		os.Remove(dst)
		return fmt.Errorf("size mismatch after copy: %d != %d", dstInfo.Size(), srcInfo.Size())
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove source after verified copy: %w", err)
	}
	return nil
}

// TreeSize returns the total byte size of a file or directory tree.
func TreeSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	return total, nil
}

// FreeBytes returns the free space on the filesystem holding dir.
func FreeBytes(dir string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s failed: %w", dir, err)
	}
	return int64(st.Bavail) * st.Bsize, nil
}
