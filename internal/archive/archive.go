// Package archive bundles rendition outputs into a single zip for bulk download.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DefaultName is the archive filename used when none is configured.
const DefaultName = "processed_images.zip"

// Entry is one file inside the archive.
type Entry struct {
	Name string
	Data []byte
}

// Write deflates entries into w in the order given. Entry names must be
// unique; a duplicate is an error rather than a silently shadowed file.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		if seen[e.Name] {
			zw.Close()
			return fmt.Errorf("duplicate archive entry %q", e.Name)
		}
		seen[e.Name] = true

		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			zw.Close()
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	return zw.Close()
}

// WriteFile writes the archive to path atomically: it is assembled in a
// temporary file next to path and renamed into place.
func WriteFile(path string, entries []Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := Write(tmp, entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
