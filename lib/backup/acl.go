package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/onkernel/rtp-recorder/lib/logger"
)

// ACLSuffix is the extension of access control list files.
const ACLSuffix = ".acl"

// Only ACLs guarding recordings and folders are backed up. Others, such as
// one-off request tokens, are transient.
var aclPrefixes = []string{
	"playRecording",
	"editRecording",
	"readRecording",
	"annotateRecording",
	"readFolder",
	"writeFolder",
}

// ACLListener is notified when an access control list file changes.
type ACLListener interface {
	ACLCreated(ctx context.Context, folder, id string)
	ACLUpdated(ctx context.Context, folder, id string)
	ACLDeleted(ctx context.Context, folder, id string)
}

// IsBackedUp reports whether the ACL with id is mirrored.
func IsBackedUp(id string) bool {
	for _, p := range aclPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// ACLWorker mirrors ACL files from the security directory to the backup root.
// Operations run on the caller's goroutine and are serialized per ACL.
type ACLWorker struct {
	ctx         context.Context
	securityDir string
	root        string
	opts        options

	busy    *Busy
	retries *retrier
}

var _ ACLListener = (*ACLWorker)(nil)

func NewACLWorker(ctx context.Context, securityDir, root string, opts ...Option) (*ACLWorker, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	w := &ACLWorker{
		ctx:         context.WithoutCancel(ctx),
		securityDir: securityDir,
		root:        root,
		opts:        defaultOptions(),
		busy:        NewBusy(),
		retries:     newRetrier(),
	}
	for _, o := range opts {
		o(&w.opts)
	}
	return w, nil
}

func (w *ACLWorker) source(folder, id string) string {
	return filepath.Join(w.securityDir, folder, id+ACLSuffix)
}

// Path is the backup location of an ACL.
func (w *ACLWorker) Path(folder, id string) string {
	return filepath.Join(w.root, folder, id+ACLSuffix)
}

func (w *ACLWorker) ACLCreated(ctx context.Context, folder, id string) {
	w.copyACL(ctx, folder, id)
}

func (w *ACLWorker) ACLUpdated(ctx context.Context, folder, id string) {
	w.copyACL(ctx, folder, id)
}

func (w *ACLWorker) copyACL(ctx context.Context, folder, id string) {
	if !IsBackedUp(id) {
		return
	}
	log := logger.FromContext(ctx).With("folder", folder, "acl", id)
	k := folder + "/" + id
	w.busy.Start(k)
	defer w.busy.Finish(k)

	dst := w.Path(folder, id)
	err := os.MkdirAll(filepath.Dir(dst), 0o755)
	if err == nil {
		err = w.opts.copyWithRetry(ctx, w.source(folder, id), dst)
	}
	if errors.Is(err, fs.ErrNotExist) && !exists(w.source(folder, id)) {
		log.Debug("acl removed before it could be backed up")
		return
	}
	if err != nil {
		log.Warn("failed to back up acl, will retry", "err", err, "in", w.opts.retryInterval)
		w.retries.after(w.opts.retryInterval, func() { w.copyACL(w.ctx, folder, id) })
		return
	}
	log.Debug("acl backed up")
}

func (w *ACLWorker) ACLDeleted(ctx context.Context, folder, id string) {
	if !IsBackedUp(id) {
		return
	}
	log := logger.FromContext(ctx).With("folder", folder, "acl", id)
	k := folder + "/" + id
	w.busy.Start(k)
	defer w.busy.Finish(k)

	if err := os.Remove(w.Path(folder, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("failed to delete acl backup", "err", err)
		return
	}
	log.Debug("acl backup deleted")
}

// Shutdown cancels pending retries and waits for in-flight operations.
func (w *ACLWorker) Shutdown(ctx context.Context) error {
	w.retries.stop()
	return w.busy.Wait(ctx)
}
