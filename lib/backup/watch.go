package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/onkernel/rtp-recorder/lib/logger"
)

// ACLWatcher turns file changes under a security directory into ACL events.
type ACLWatcher struct {
	dir      string
	listener ACLListener
	watcher  *fsnotify.Watcher
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// NewACLWatcher starts watching dir and every directory below it.
func NewACLWatcher(dir string, listener ACLListener) (*ACLWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create security directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := addRecursive(watcher, dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &ACLWatcher{dir: dir, listener: listener, watcher: watcher}, nil
}

// split maps an ACL file path to its folder and id.
func (a *ACLWatcher) split(path string) (folder, id string, ok bool) {
	if !strings.HasSuffix(path, ACLSuffix) {
		return "", "", false
	}
	rel, err := filepath.Rel(a.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	folder = filepath.ToSlash(filepath.Dir(rel))
	if folder == "." {
		folder = ""
	}
	return folder, strings.TrimSuffix(filepath.Base(rel), ACLSuffix), true
}

// Run delivers events until ctx is done, then closes the watcher.
func (a *ACLWatcher) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	defer a.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(a.watcher, ev.Name); err != nil {
						log.Error("failed to recursively watch new directory", "err", err, "path", ev.Name)
					}
					continue
				}
			}
			folder, id, ok := a.split(ev.Name)
			if !ok {
				continue
			}
			switch {
			case ev.Op&fsnotify.Create != 0:
				a.listener.ACLCreated(ctx, folder, id)
			case ev.Op&fsnotify.Write != 0:
				a.listener.ACLUpdated(ctx, folder, id)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				a.listener.ACLDeleted(ctx, folder, id)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("fsnotify error", "err", err)
		}
	}
}
