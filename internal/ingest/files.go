package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"statusdrift/internal/snapshot"
)

// SnapshotFiles lists the snapshot files directly under dir, oldest name
// first. Spreadsheet lock files ("~$…") and hidden files are ignored.
func SnapshotFiles(dir string) ([]string, error) {
	root := filepath.Clean(dir)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsSnapshotFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func IsSnapshotFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
		return false
	}
	return snapshot.Supported(name)
}

// FileHash identifies snapshot content so an unchanged file is not imported
// twice.
func FileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
