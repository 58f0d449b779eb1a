package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	filePrefix = "beams-"
	fileSuffix = ".parquet"
)

// ListFiles returns the completed archive files in dir, oldest first.
// Names embed the UTC start time, so lexical order is chronological.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: listing %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// prune removes the oldest completed files beyond maxFiles. A maxFiles of
// zero keeps everything.
func prune(dir string, maxFiles int) (int, error) {
	if maxFiles <= 0 {
		return 0, nil
	}
	files, err := ListFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(files) <= maxFiles {
		return 0, nil
	}

	toRemove := files[:len(files)-maxFiles]
	for i, path := range toRemove {
		if err := os.Remove(path); err != nil {
			return i, fmt.Errorf("archive: pruning %s: %w", filepath.Base(path), err)
		}
	}
	return len(toRemove), nil
}
