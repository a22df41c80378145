package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	retry "github.com/avast/retry-go/v5"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyWithRetry copies one file, retrying in place a few times.
func (o options) copyWithRetry(ctx context.Context, src, dst string) error {
	return retry.New(
		retry.Attempts(o.copyAttempts),
		retry.Delay(o.copyDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		return o.copyFile(src, dst)
	})
}

// copyTree copies src into dst recursively, skipping the in-progress sentinel.
func (o options) copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Name() == recording.InProgressFile {
			return nil
		}
		if err := o.copyWithRetry(ctx, path, target); err != nil {
			return fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		return nil
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
