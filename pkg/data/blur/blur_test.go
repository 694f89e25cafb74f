// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package blur

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassName(t *testing.T) {
	for sigma, want := range map[float64]string{
		0.5:  "blur_5",
		1.0:  "blur_10",
		1.5:  "blur_15",
		3.0:  "blur_30",
		0.3:  "blur_3",
		0.25: "blur_025",
	} {
		assert.Equal(t, want, ClassName(sigma), "sigma=%g", sigma)
	}
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("/a/b.png"))
	assert.True(t, IsImage("b.JPG"))
	assert.True(t, IsImage("b.jpeg"))
	assert.False(t, IsImage("train_data.csv"))
	assert.False(t, IsImage("png"))
}

// writeCheckerboard writes a small high-frequency image, which blurring visibly changes.
func writeCheckerboard(t *testing.T, path string) {
	img := imaging.New(16, 16, color.Black)
	for y := range 16 {
		for x := range 16 {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			}
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, imaging.Save(img, path))
}

func TestWriteBlurred(t *testing.T) {
	src := filepath.Join(t.TempDir(), "x.png")
	writeCheckerboard(t, src)
	out := t.TempDir()
	written, err := WriteBlurred(src, "train", out, []float64{0.5, 2.0})
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(out, "train", "blur_5", "x.png"),
		filepath.Join(out, "train", "blur_20", "x.png"),
	}, written)

	original, err := imaging.Open(src)
	require.NoError(t, err)
	for _, p := range written {
		blurred, err := imaging.Open(p)
		require.NoError(t, err)
		assert.Equal(t, original.Bounds(), blurred.Bounds())
		assert.NotEqual(t, imaging.Clone(original).Pix, imaging.Clone(blurred).Pix, "%q was not blurred", p)
	}

	_, err = WriteBlurred(filepath.Join(out, "missing.png"), "train", out, DefaultSigmas)
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	in := t.TempDir()
	for _, split := range []string{"train", "valid"} {
		for ii := range 3 {
			writeCheckerboard(t, filepath.Join(in, split, "0", fmt.Sprintf("img_%d.png", ii)))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "train", "notes.txt"), []byte("ignored"), 0644))

	out := t.TempDir()
	sigmas := []float64{1.0, 2.0}
	n, err := Generate(Config{
		InputDir:        in,
		OutputDir:       out,
		Sigmas:          sigmas,
		IncludeOriginal: true,
		Parallelism:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2*3*(len(sigmas)+1), n)
	for _, split := range []string{"train", "valid"} {
		for _, class := range []string{"blur_10", "blur_20", OriginalClassName} {
			entries, err := os.ReadDir(filepath.Join(out, split, class))
			require.NoError(t, err)
			assert.Len(t, entries, 3, "%s/%s", split, class)
		}
	}
}

func TestGenerateSelectedSplits(t *testing.T) {
	in := t.TempDir()
	writeCheckerboard(t, filepath.Join(in, "train", "a.png"))
	writeCheckerboard(t, filepath.Join(in, "valid", "b.png"))
	out := t.TempDir()
	n, err := Generate(Config{InputDir: in, OutputDir: out, Splits: []string{"valid"}})
	require.NoError(t, err)
	assert.Equal(t, len(DefaultSigmas), n)
	_, err = os.Stat(filepath.Join(out, "train"))
	assert.True(t, os.IsNotExist(err))

	_, err = Generate(Config{InputDir: in, OutputDir: out, Splits: []string{"test"}})
	require.Error(t, err)
}
