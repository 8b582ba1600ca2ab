package registry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestArchiveSave tests spooling a payload to the local directory
func TestArchiveSave(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchive(dir, nil)
	require.NoError(t, err)

	size, path, err := archive.Save(context.Background(), "rec-1", "video/webm", bytes.NewReader([]byte("media")))
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, filepath.Join(dir, "rec-1.webm"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "media", string(data))
}

// TestArchiveExtension tests content-type to extension mapping
func TestArchiveExtension(t *testing.T) {
	assert.Equal(t, ".webm", extensionForContentType("video/webm;codecs=vp9,opus"))
	assert.Equal(t, ".mp4", extensionForContentType("video/mp4"))
	assert.Equal(t, ".ogg", extensionForContentType("audio/ogg"))
	assert.Equal(t, ".bin", extensionForContentType("application/octet-stream"))
}
