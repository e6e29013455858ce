package dicom

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// isHidden reports whether a directory entry name is hidden (dot-prefixed).
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// FindFiles returns every regular file under root, sorted. Hidden entries and
// everything beneath a hidden directory are skipped. Entries that cannot be
// read are ignored, so a missing root yields an empty list.
func FindFiles(root string) []string {
	var files []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip entries we can't access
		}

		if path != root && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		files = append(files, path)
		return nil
	}

	_ = filepath.WalkDir(root, walkFn)

	sort.Strings(files)
	return files
}
