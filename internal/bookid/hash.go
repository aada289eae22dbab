// Package bookid computes the stable per-book identity hash and provides
// filesystem-safe name handling shared by the pipeline stages.
package bookid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// audioExts are the recognized source audio extensions (lowercase).
var audioExts = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
	".wma":  true,
}

// IsAudioFile reports whether name has a recognized audio extension.
// The check is case-insensitive.
func IsAudioFile(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// IsM4B reports whether path names an .m4b file.
func IsM4B(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".m4b")
}

// ListAudioFiles returns all recognized audio files under dir, recursively,
// in lexicographic order of their full paths.
func ListAudioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsAudioFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Hash computes the 16-hex-char identity for a source path. Directories
// hash the path plus the sorted audio file list; a single M4B hashes the
// path plus its size. The hash is the pipeline's idempotency key: the same
// inputs always produce the same hash.
func Hash(sourcePath string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat source: %w", err)
	}

	var input string
	if info.IsDir() {
		files, err := ListAudioFiles(sourcePath)
		if err != nil {
			return "", err
		}
		input = sourcePath + "\n" + strings.Join(files, "\n")
	} else {
		input = fmt.Sprintf("%s\n%d", sourcePath, info.Size())
	}

	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16], nil
}
