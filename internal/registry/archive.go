package registry

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/golemcloud/golem/internal/golemerr"
)

// resolveInitialFiles validates that every declared InitialFileSpec is
// present in the supplied archive contents (keyed by sanitized path) and
// stores each file's bytes as a content-addressed blob (§4.6 "Files").
func resolveInitialFiles(blobs *BlobStore, specs []InitialFileSpec, contents map[string][]byte) ([]InitialFile, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	resolved := make([]InitialFile, 0, len(specs))
	for _, spec := range specs {
		clean, err := sanitizeArchivePath(spec.Path)
		if err != nil {
			return nil, err
		}
		data, ok := contents[clean]
		if !ok {
			return nil, golemerr.New(golemerr.MalformedArchive, fmt.Sprintf("declared initial file %q missing from archive", spec.Path))
		}
		key, err := blobs.Put(data)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, InitialFile{Path: clean, Permission: spec.Permission, BlobKey: key})
	}
	return resolved, nil
}

// ExtractArchive reads a zip-encoded initial-files archive, returning its
// contents keyed by sanitized path. Used to build the `contents` map passed
// to resolveInitialFiles.
func ExtractArchive(data []byte) (map[string][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, golemerr.Wrap(golemerr.MalformedArchive, "open zip archive", err)
	}

	contents := make(map[string][]byte, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		clean, err := sanitizeArchivePath(f.Name)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, golemerr.Wrap(golemerr.MalformedArchive, "open archive entry "+f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, golemerr.Wrap(golemerr.MalformedArchive, "read archive entry "+f.Name, err)
		}
		contents[clean] = data
	}
	return contents, nil
}

// sanitizeArchivePath normalizes path separators and rejects traversal
// attempts, matching the zip-slip protection discipline the teacher applies
// to every filesystem path it derives from external input.
func sanitizeArchivePath(p string) (string, error) {
	normalized := strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + normalized)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", golemerr.New(golemerr.MalformedArchive, fmt.Sprintf("empty archive path %q", p))
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == ".." || segment == "" {
			return "", golemerr.New(golemerr.MalformedArchive, fmt.Sprintf("unsafe archive path %q", p))
		}
	}
	return cleaned, nil
}
