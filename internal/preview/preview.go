// Package preview produces a short textual description of a task's input
// data, shared by every worker in a pool so proposals know what they are
// working with.
package preview

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	maxFiles     = 25
	maxHeadLines = 5
	maxLineLen   = 200
	maxTotalLen  = 8 * 1024
)

// textExtensions are previewed with their first lines; everything else is
// listed by name and size only.
var textExtensions = map[string]bool{
	".csv":  true,
	".tsv":  true,
	".txt":  true,
	".json": true,
	".md":   true,
}

// Generate walks dir and summarizes its files. An empty or absent dir
// yields an empty preview without error; tasks are not required to ship
// input data.
func Generate(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)

	var b strings.Builder
	for i, path := range files {
		if i >= maxFiles {
			fmt.Fprintf(&b, "... and %d more files\n", len(files)-maxFiles)
			break
		}
		if b.Len() > maxTotalLen {
			b.WriteString("... preview truncated\n")
			break
		}
		describeFile(&b, dir, path)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func describeFile(b *strings.Builder, root, path string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "%s (%d bytes)\n", rel, info.Size())

	if !textExtensions[filepath.Ext(path)] {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i >= maxHeadLines {
			b.WriteString("    ...\n")
			break
		}
		if len(line) > maxLineLen {
			line = line[:maxLineLen] + "..."
		}
		fmt.Fprintf(b, "    %s\n", line)
	}
}
