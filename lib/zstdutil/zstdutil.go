// Package zstdutil exports and imports recording directories as tar.zst
// archives.
package zstdutil

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

// ErrIncomplete is returned when exporting a recording that is still being
// written or backed up.
var ErrIncomplete = errors.New("recording is incomplete")

// CompressionLevel represents the zstd compression level.
type CompressionLevel string

const (
	LevelFastest CompressionLevel = "fastest"
	LevelDefault CompressionLevel = "default"
	LevelBetter  CompressionLevel = "better"
	LevelBest    CompressionLevel = "best"
)

func (l CompressionLevel) encoderLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// ExportRecording streams the archive, index and metadata files of rec to w.
// Archive entries are named relative to the recording directory.
func ExportRecording(w io.Writer, rec *recording.Recording, level CompressionLevel) error {
	if _, err := os.Stat(filepath.Join(rec.Dir, recording.InProgressFile)); err == nil {
		return ErrIncomplete
	}
	return tarZstdDir(w, rec.Dir, level, func(rel string) bool {
		return filepath.Base(rel) == recording.InProgressFile
	})
}

// ImportRecording extracts an exported recording into root/folder/id and
// returns the new directory. The directory must not already exist.
func ImportRecording(r io.Reader, root, folder, id string) (string, error) {
	dir := filepath.Join(root, filepath.FromSlash(folder), id)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("recording directory %s already exists", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}
	// an interrupted import looks like an unfinished backup copy
	sentinel := filepath.Join(dir, recording.InProgressFile)
	if err := os.WriteFile(sentinel, nil, 0o644); err != nil {
		return "", fmt.Errorf("failed to mark import in progress: %w", err)
	}
	if err := untarZstd(r, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := os.Remove(sentinel); err != nil {
		return "", fmt.Errorf("failed to finish import: %w", err)
	}
	return dir, nil
}

// tarZstdDir writes the regular files and directories under sourceDir to w.
// Paths for which skip returns true are left out.
func tarZstdDir(w io.Writer, sourceDir string, level CompressionLevel, skip func(rel string) bool) error {
	zw, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(level.encoderLevel()),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", path, err)
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("rel path for %s: %w", path, err)
		}
		if rel == "." || skip(rel) {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("header for %s: %w", path, err)
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open file %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("copy file %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// tar footer before the zstd frame
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

// untarZstd extracts directories and regular files into destDir. Other entry
// types are ignored.
func untarZstd(r io.Reader, destDir string) error {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("create zstd decoder: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	root := filepath.Clean(destDir) + string(os.PathSeparator)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		destPath := filepath.Join(destDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(filepath.Clean(destPath), root) {
			return fmt.Errorf("illegal file path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", destPath, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, destPath, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		}
	}
}

func extractFile(r io.Reader, path string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("extract file %s: %w", path, err)
	}
	return f.Close()
}
