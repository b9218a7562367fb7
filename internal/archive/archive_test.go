package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string][]byte)
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b
	}
	return out
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Name: "a_banner.webp", Data: []byte("first")},
		{Name: "b_banner.webp", Data: bytes.Repeat([]byte("x"), 4096)},
	}

	require.NoError(t, Write(&buf, entries))

	files := readZip(t, buf.Bytes())
	assert.Len(t, files, 2)
	assert.Equal(t, []byte("first"), files["a_banner.webp"])
	assert.Len(t, files["b_banner.webp"], 4096)
}

func TestWriteRejectsDuplicates(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []Entry{{Name: "x.webp"}, {Name: "x.webp"}})
	assert.ErrorContains(t, err, "duplicate")
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Empty(t, readZip(t, buf.Bytes()))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultName)

	require.NoError(t, WriteFile(path, []Entry{{Name: "cat_banner.webp", Data: []byte("meow")}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("meow"), readZip(t, data)["cat_banner.webp"])

	// No temporary files are left behind.
	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
