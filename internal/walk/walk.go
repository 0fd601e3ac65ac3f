// Package walk enumerates the image files a job will process.
package walk

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// imageExts is the set of source extensions eligible for processing.
// Lookup keys are lower-case including the dot.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
}

// File is one enumerated source image.
type File struct {
	// Path is the absolute path to the source file.
	Path string
	// Rel is the path relative to the enumeration root, used to mirror
	// the directory layout under the output root.
	Rel string
}

// IsImage reports whether name has an eligible image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Images recursively enumerates the image files under root in lexical
// order. Only regular files with an eligible extension are returned;
// symlinks are not followed. The enumeration is deterministic: two calls
// over an unchanged tree return identical slices.
func Images(root string) ([]File, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", root)
	}

	var files []File
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !IsImage(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: path, Rel: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}
