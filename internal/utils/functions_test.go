package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBandwidth(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"100", 100},
		{"500K", 500 * 1024},
		{"2.5m", 2.5 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
		{"4MB", 4 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := ParseBandwidth(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.expected, got, tt.input)
	}

	for _, bad := range []string{"fast", "-1M", "0"} {
		_, err := ParseBandwidth(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"Accept: */*", "X-Trace:  abc:def ", "broken"})
	assert.Equal(t, map[string]string{"Accept": "*/*", "X-Trace": "abc:def"}, got)
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "arch.iso")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arch-(1).iso"), []byte("x"), 0644))

	assert.Equal(t, filepath.Join(dir, "arch-(2).iso"), RenewOutputPath(existing))
}

func TestFileNameFromURL(t *testing.T) {
	assert.Equal(t, "archlinux-2025.01.01-x86_64.iso", FileNameFromURL("https://mirror.example/iso/latest/archlinux-2025.01.01-x86_64.iso"))
	assert.Equal(t, "download", FileNameFromURL("https://mirror.example/"))
	assert.Equal(t, "download", FileNameFromURL("https://mirror.example"))
}

func TestReadDownloadList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yaml")
	content := `
- link: https://example.com/a.bin
  op: a.bin
- type: arch
  op: isos
`
	require.NoError(t, os.WriteFile(list, []byte(content), 0644))

	entries, err := ReadDownloadList(list)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, DownloadEntry{OutputPath: "a.bin", URL: "https://example.com/a.bin", Type: "http"}, entries[0])
	assert.Equal(t, "arch", entries[1].Type)

	require.NoError(t, os.WriteFile(list, []byte("- op: nothing\n"), 0644))
	_, err = ReadDownloadList(list)
	assert.ErrorContains(t, err, "missing URL for entry 1")

	_, err = ReadDownloadList(filepath.Join(dir, "absent.yaml"))
	assert.ErrorContains(t, err, "error reading YAML file")
}
