package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfineRelPathAllowsContainedFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.m3u8"), []byte("x"), 0o644))

	got, err := ConfineRelPath(root, "index.m3u8")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "index.m3u8"), got)
}

func TestConfineRelPathRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	_, err := ConfineRelPath(root, "../../etc/passwd")
	require.Error(t, err)
}

func TestConfineRelPathRejectsBackslash(t *testing.T) {
	root := t.TempDir()
	_, err := ConfineRelPath(root, `a\..\..\etc\passwd`)
	require.Error(t, err)
}

func TestConfineRelPathRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	_, err := ConfineRelPath(root, filepath.Join("escape", "secret"))
	require.Error(t, err)
}
