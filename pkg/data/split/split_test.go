// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package split

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createFiles(t *testing.T, root string, n int) {
	for ii := range n {
		p := filepath.Join(root, fmt.Sprintf("class_%d", ii%3), fmt.Sprintf("img_%03d.png", ii))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	createFiles(t, root, 100)

	train, valid, err := Dir(root, 0.8, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	require.Len(t, train, 80)
	require.Len(t, valid, 20)

	inTrain := make(map[string]bool, len(train))
	for _, p := range train {
		inTrain[p] = true
	}
	for _, p := range valid {
		assert.Falsef(t, inTrain[p], "%q in both train and validation", p)
	}

	// Same seed, same partition.
	train2, valid2, err := Dir(root, 0.8, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, valid, valid2)

	// Different seed, (almost certainly) different partition.
	train3, _, err := Dir(root, 0.8, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.NotEqual(t, train, train3)
}

func TestPaths(t *testing.T) {
	paths := []string{"a", "b", "c", "d", "e"}
	train, valid, err := Paths(paths, 0.6, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, train)
	assert.Equal(t, []string{"d", "e"}, valid)

	train, valid, err = Paths(paths, 0.5, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Len(t, train, 3) // round(2.5) == 3
	assert.Len(t, valid, 2)
	assert.ElementsMatch(t, paths, append(train, valid...))
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, paths, "input modified")

	train, valid, err = Paths(paths, 1, nil)
	require.NoError(t, err)
	assert.Len(t, train, 5)
	assert.Empty(t, valid)

	_, _, err = Paths(paths, 1.5, nil)
	require.Error(t, err)
	_, _, err = Paths(paths, -0.1, nil)
	require.Error(t, err)
}
