// Package zip bundles stored files into a single archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one file placed in the archive.
type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// Write streams entries into w. Duplicate names get a numeric suffix and
// entries without data are skipped.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	for _, entry := range entries {
		if len(entry.Data) == 0 {
			continue
		}
		name := uniqueName(seen, entry.Name)
		header := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if !entry.Modified.IsZero() {
			header.Modified = entry.Modified
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(entry.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

// Archive returns the archive as a byte slice.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := Write(buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uniqueName(seen map[string]int, name string) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" || name == "." {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
