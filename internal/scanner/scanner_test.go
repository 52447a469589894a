package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanFiltersExtensionsAndSorts(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	write("b.mkv")
	write("a.mp4")
	write("ignore.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	entries, err := Scan(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.mp4", entries[0].Filename)
	require.Equal(t, "b.mkv", entries[1].Filename)
}

func TestIDForPathIsDeterministic(t *testing.T) {
	a := IDForPath("/media/show/e01.mkv")
	b := IDForPath("/media/show/e01.mkv")
	require.Equal(t, a, b)
	require.Len(t, a, 16)

	c := IDForPath("/media/show/e02.mkv")
	require.NotEqual(t, a, c)
}
