package dbconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.hujson"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMergesOverlayOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodestore.hujson")

	writeFile(t, path, `{
		// use a smaller window for testing
		"window_alignment": 65536,
		"durability": "mem_only",
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Durability("mem_only"), cfg.Durability)
	require.Equal(t, int64(65536), cfg.WindowAlignment)
	require.Equal(t, Default().MaxListSize, cfg.MaxListSize, "unset fields keep their default")
}

func TestLoadRejectsInvalidDurability(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodestore.hujson")
	writeFile(t, path, `{"durability": "sideways"}`)

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalidDurability)
}

func TestLoadRejectsNonPowerOfTwoAlignment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodestore.hujson")
	writeFile(t, path, `{"window_alignment": 1000}`)

	_, err := Load(path)
	require.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
