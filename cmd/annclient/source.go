/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// directorySource sends every image file below a directory, tagged with its
// index in name order.
type directorySource struct {
	paths []string
	next  int
}

func newDirectorySource(root string) (*directorySource, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return &directorySource{paths: paths}, nil
}

func (source *directorySource) Len() int {
	return len(source.paths)
}

func (source *directorySource) Path(tag int32) string {
	if tag < 0 || int(tag) >= len(source.paths) {
		return "?"
	}
	return source.paths[tag]
}

func (source *directorySource) Next() (int32, []byte, error) {
	if source.next >= len(source.paths) {
		return 0, nil, io.EOF
	}

	tag := int32(source.next)
	source.next++

	data, err := os.ReadFile(source.paths[tag])
	if err != nil {
		return 0, nil, err
	}
	return tag, data, nil
}
