// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"io/fs"
	"path/filepath"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyIndex is returned when a loader would be built on an index with no files:
	// there is nothing to sample from.
	ErrEmptyIndex = errors.New("sample index is empty")

	// ErrBatchTooLarge is returned when the batch size is larger than the index, since examples within a batch
	// are drawn without replacement.
	ErrBatchTooLarge = errors.New("batch size larger than the sample index")
)

// WalkIndex returns the paths of all regular files reachable from root, recursively,
// in lexical order.
//
// Directories are followed, everything else that is not a regular file (sockets, devices, etc.) is skipped.
// It returns ErrEmptyIndex (wrapped) if no file is found.
func WalkIndex(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "while indexing %q", root)
	}
	if len(paths) == 0 {
		return nil, errors.Wrapf(ErrEmptyIndex, "no files found under %q", root)
	}
	return paths, nil
}
