// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePaths returns n synthetic paths, they don't need to exist since the preprocess functions in these tests
// don't touch the file system.
func fakePaths(n int) []string {
	paths := make([]string, n)
	for ii := range paths {
		paths[ii] = fmt.Sprintf("/data/class_%d/img_%03d.png", ii%2, ii)
	}
	return paths
}

// labelFromPath returns the length of the path as the "sample" and the class in the directory name as label.
func labelFromPath(path string) (int, int, error) {
	label := 0
	if strings.Contains(path, "class_1") {
		label = 1
	}
	return len(path), label, nil
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWalkIndex(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b/2.png", "a/1.png", "a/deep/3.png", "top.txt"} {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(name), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))

	paths, err := WalkIndex(root)
	require.NoError(t, err)
	want := []string{
		filepath.Join(root, "a/1.png"),
		filepath.Join(root, "a/deep/3.png"),
		filepath.Join(root, "b/2.png"),
		filepath.Join(root, "top.txt"),
	}
	assert.Equal(t, want, paths)

	_, err = WalkIndex(filepath.Join(root, "empty"))
	require.ErrorIs(t, err, ErrEmptyIndex)

	_, err = WalkIndex(filepath.Join(root, "missing"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := NewFromPaths[int](nil, labelFromPath, 1, 1)
	require.ErrorIs(t, err, ErrEmptyIndex)

	_, err = NewFromPaths(fakePaths(3), labelFromPath, 4, 1)
	require.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = NewFromPaths(fakePaths(3), labelFromPath, 0, 1)
	require.Error(t, err)

	_, err = NewFromPaths(fakePaths(3), labelFromPath, 1, 0)
	require.Error(t, err)

	_, err = NewFromPaths[int](fakePaths(3), nil, 1, 1)
	require.Error(t, err)

	_, err = New(t.TempDir(), labelFromPath, 1, 1)
	require.ErrorIs(t, err, ErrEmptyIndex)
}

func TestNewFromDirectory(t *testing.T) {
	root := t.TempDir()
	for ii := range 6 {
		p := filepath.Join(root, fmt.Sprintf("class_%d", ii%2), fmt.Sprintf("%d.png", ii))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, nil, 0644))
	}
	l, err := New(root, labelFromPath, 3, 2)
	require.NoError(t, err)
	require.Len(t, l.Index(), 6)
	require.NoError(t, l.Start())
	defer l.Stop()

	batch, err := l.Get(testContext(t))
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for _, example := range batch {
		assert.True(t, strings.HasPrefix(example.Path, root))
		_, wantLabel, _ := labelFromPath(example.Path)
		assert.Equal(t, wantLabel, example.Label)
	}
}

func TestBatchesHaveNoDuplicates(t *testing.T) {
	const batchSize = 5
	l, err := NewFromPaths(fakePaths(20), labelFromPath, batchSize, 3)
	require.NoError(t, err)
	require.NoError(t, l.WithRand(rand.New(rand.NewSource(7))).Start())
	defer l.Stop()

	ctx := testContext(t)
	for range 100 {
		batch, err := l.Get(ctx)
		require.NoError(t, err)
		require.Len(t, batch, batchSize)
		seen := make(map[string]bool, batchSize)
		for _, example := range batch {
			require.Falsef(t, seen[example.Path], "path %q repeated within a batch", example.Path)
			seen[example.Path] = true
			assert.Equal(t, len(example.Path), example.Sample)
		}
	}
}

func TestBatchSizeEqualToIndex(t *testing.T) {
	paths := fakePaths(7)
	l, err := NewFromPaths(paths, labelFromPath, len(paths), 2)
	require.NoError(t, err)
	require.NoError(t, l.Start())
	defer l.Stop()

	batch, err := l.Get(testContext(t))
	require.NoError(t, err)
	assert.ElementsMatch(t, paths, batch.Paths())
}

func TestCoverage(t *testing.T) {
	paths := fakePaths(50)
	l, err := NewFromPaths(paths, labelFromPath, 4, 4)
	require.NoError(t, err)
	require.NoError(t, l.WithRand(rand.New(rand.NewSource(1))).Start())
	defer l.Stop()

	// 200 batches of 4 from 50 files: the chance of never drawing a given file is ~(46/50)^200.
	counts := make(map[string]int)
	ctx := testContext(t)
	for range 200 {
		batch, err := l.Get(ctx)
		require.NoError(t, err)
		for _, p := range batch.Paths() {
			counts[p]++
		}
	}
	assert.Len(t, counts, len(paths))
	for p, count := range counts {
		// Expected count is 16, anything beyond 50 would be a very skewed sampler.
		assert.Lessf(t, count, 50, "path %q sampled %d times", p, count)
	}
}

func TestFailingSampleIsSkipped(t *testing.T) {
	paths := fakePaths(10)
	bad := paths[3]
	preprocess := func(path string) (int, int, error) {
		if path == bad {
			return 0, 0, errors.New("corrupted image")
		}
		return labelFromPath(path)
	}
	l, err := NewFromPaths(paths, preprocess, 3, 4)
	require.NoError(t, err)
	require.NoError(t, l.WithRand(rand.New(rand.NewSource(3))).Start())

	ctx := testContext(t)
	for range 50 {
		batch, err := l.Get(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 3)
		require.NotContains(t, batch.Paths(), bad)
	}
	l.Stop()
	stats := l.Stats()
	assert.Greater(t, stats.FailedSamples, int64(0))
	assert.Equal(t, stats.FailedSamples, stats.DroppedBatches)
	assert.GreaterOrEqual(t, stats.Batches, int64(50))
}

func TestPanicIsRecovered(t *testing.T) {
	paths := fakePaths(10)
	bad := paths[0]
	preprocess := func(path string) (int, int, error) {
		if path == bad {
			panic("decoder exploded")
		}
		return labelFromPath(path)
	}
	l, err := NewFromPaths(paths, preprocess, 2, 2)
	require.NoError(t, err)
	require.NoError(t, l.Start())
	defer l.Stop()

	ctx := testContext(t)
	for range 30 {
		batch, err := l.Get(ctx)
		require.NoError(t, err)
		require.NotContains(t, batch.Paths(), bad)
	}
}

func TestAllFailingBlocksUntilContextDone(t *testing.T) {
	preprocess := func(path string) (int, int, error) {
		return 0, 0, errors.Errorf("can't read %s", path)
	}
	l, err := NewFromPaths(fakePaths(4), preprocess, 2, 2)
	require.NoError(t, err)
	require.NoError(t, l.Start())
	defer l.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopIsBounded(t *testing.T) {
	const delay = 20 * time.Millisecond
	preprocess := func(path string) (int, int, error) {
		time.Sleep(delay)
		return labelFromPath(path)
	}
	l, err := NewFromPaths(fakePaths(8), preprocess, 2, 4)
	require.NoError(t, err)
	require.NoError(t, l.QueueCapacity(1).Start())

	ctx := testContext(t)
	for range 3 {
		_, err := l.Get(ctx)
		require.NoError(t, err)
	}

	// By now workers are either preprocessing or blocked on the full queue: each one takes at most one batch
	// (2*delay) to notice the shutdown signal.
	start := time.Now()
	l.Stop()
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 20*2*delay, "Stop took %s", elapsed)

	produced := l.Stats().Batches
	time.Sleep(5 * delay)
	assert.Equal(t, produced, l.Stats().Batches, "batches produced after Stop returned")

	_, err = l.Get(ctx)
	require.ErrorIs(t, err, ErrStopped)
}

func TestLifecycleErrors(t *testing.T) {
	l, err := NewFromPaths(fakePaths(4), labelFromPath, 2, 1)
	require.NoError(t, err)

	_, err = l.Get(testContext(t))
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, l.Start())
	require.ErrorIs(t, l.Start(), ErrAlreadyStarted)
	l.Stop()
	l.Stop() // Idempotent.

	// Stop before Start.
	l2, err := NewFromPaths(fakePaths(4), labelFromPath, 2, 1)
	require.NoError(t, err)
	l2.Stop()
	require.ErrorIs(t, l2.Start(), ErrStopped)
	_, err = l2.Get(testContext(t))
	require.ErrorIs(t, err, ErrStopped)
}

func TestSameSeedSameBatches(t *testing.T) {
	paths := fakePaths(30)
	draw := func() [][]string {
		l, err := NewFromPaths(paths, labelFromPath, 4, 1)
		require.NoError(t, err)
		require.NoError(t, l.WithRand(rand.New(rand.NewSource(42))).Start())
		defer l.Stop()
		var batches [][]string
		for range 5 {
			batch, err := l.Get(testContext(t))
			require.NoError(t, err)
			batches = append(batches, batch.Paths())
		}
		return batches
	}
	assert.Equal(t, draw(), draw())
}

func TestIndexIsACopy(t *testing.T) {
	paths := fakePaths(3)
	l, err := NewFromPaths(paths, labelFromPath, 1, 1)
	require.NoError(t, err)
	paths[0] = "changed"
	assert.NotEqual(t, "changed", l.Index()[0])
	index := l.Index()
	index[1] = "changed"
	assert.NotEqual(t, "changed", l.Index()[1])
	assert.Equal(t, 1, l.BatchSize())
	assert.Equal(t, 1, l.NumWorkers())
}

func TestStatsString(t *testing.T) {
	s := Stats{Batches: 12345, DroppedBatches: 2, FailedSamples: 2}
	assert.Equal(t, "12,345 batches produced, 2 dropped (2 failed samples)", s.String())
}
