package chromasort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// ErrAccessDenied is returned when a directory can not be opened for scanning.
var ErrAccessDenied = errors.New("directory access denied")

// IsImage returns true if the file name carries a recognized image extension.
func IsImage(name string) bool {
	_, ok := mediaTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

func checkRoot(root string) error {
	st, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrAccessDenied, root)
	}
	return nil
}

// walk visits every entry below root. Unreadable subdirectories are skipped; an unreadable root is fatal.
func walk(root string, cb godirwalk.WalkFunc) error {
	if err := checkRoot(root); err != nil {
		return err
	}

	var rootErr error
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: cb,
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if filepath.Clean(path) == filepath.Clean(root) {
				rootErr = err
				return godirwalk.Halt
			}
			klog.Warningf("skipping %s: %v", path, err)
			return godirwalk.SkipNode
		},
	})
	if rootErr != nil {
		return fmt.Errorf("%w: %v", ErrAccessDenied, rootErr)
	}
	return err
}

// Find returns the image files found within root, recursing into every subdirectory.
func Find(root string) ([]*File, error) {
	found := []*File{}

	err := walk(root, func(path string, de *godirwalk.Dirent) error {
		if de.IsDir() || !IsImage(path) {
			return nil
		}

		fi, err := os.Stat(path)
		if err != nil {
			klog.Warningf("stat failure: %v", err)
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		klog.V(1).Infof("found %s", path)
		found = append(found, &File{
			Path:    path,
			RelPath: rel,
			Name:    filepath.Base(path),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return found, nil
}

// Dirs returns root and every directory beneath it.
func Dirs(root string) ([]string, error) {
	dirs := []string{root}
	err := walk(root, func(path string, de *godirwalk.Dirent) error {
		if de.IsDir() && filepath.Clean(path) != filepath.Clean(root) {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return dirs, nil
}
