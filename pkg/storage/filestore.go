package storage

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

// FileStore holds large event payloads and attachment blobs on disk,
// keyed by signal id. The database keeps only the paths.
type FileStore struct {
	dir string
	log *zap.Logger
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeFileStore, "failed to create file store").
			WithContext("dir", dir)
	}
	return &FileStore{dir: dir, log: log}, nil
}

// WritePayload spills an event payload and returns its path.
func (f *FileStore) WritePayload(eventID string, data []byte) (string, error) {
	return f.write("payload-"+eventID, data)
}

// WriteAttachment stores attachment bytes and returns their path.
func (f *FileStore) WriteAttachment(attachmentID string, data []byte) (string, error) {
	return f.write("blob-"+attachmentID, data)
}

func (f *FileStore) write(name string, data []byte) (string, error) {
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", pkerrors.Wrap(err, pkerrors.CodeFileStore, "failed to write blob").
			WithContext("path", path)
	}
	return path, nil
}

// Read returns the contents at path.
func (f *FileStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeFileStore, "failed to read blob").
			WithContext("path", path)
	}
	return data, nil
}

// Remove deletes the given blob paths. Missing files are ignored; a
// failed delete is logged and skipped so batch cleanup never stalls.
func (f *FileStore) Remove(paths []string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			f.log.Warn("failed to remove blob", zap.String("path", path), zap.Error(err))
		}
	}
}
