package filewatch

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"context"
)

// WaitForFile blocks until the file at path exists, or ctx is done.
//
// The parent directory of path must exist; the file itself may not, yet.
// A file appearing concurrently with the call is not missed: the watch on the
// parent directory is established before the existence check.
//
// # Returns
//
// - error: ctx.Err() when the context ends first, or the error which broke
// the watch. nil means the file exists now.
func WaitForFile(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	if _, err := os.Lstat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Name == path && event.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
