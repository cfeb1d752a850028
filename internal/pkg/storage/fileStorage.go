package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mievst/Cerebrum/internal/entity"

	"github.com/google/uuid"
)

type FileStorage interface {
	Save(name string, data io.Reader) (string, error)
	Open(ref string) (io.ReadCloser, error)
	Delete(ref string) error
	Exists(ref string) bool
	List() ([]entity.BlobInfo, error)
	Resolve(ref string) (string, error)
}

// fileStorage keeps blobs as flat files under basePath. References handed
// out to clients are basePath-joined paths so that workers sharing the
// volume can open them directly.
type fileStorage struct {
	basePath string
	absPath  string
}

// stagingDir holds uploads still being written. Dot-prefixed entries are
// never listed or resolved.
const stagingDir = ".staging"

func NewFileStorage(basePath string) (FileStorage, error) {
	// Создаем директорию если нужно
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", basePath, err)
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	return &fileStorage{basePath: filepath.Clean(basePath), absPath: abs}, nil
}

// Save writes data under "<uuid>_<name>". The content is staged under
// stagingDir and renamed into place so readers never see partial files.
func (s *fileStorage) Save(name string, data io.Reader) (string, error) {
	base := sanitizeName(name)
	if base == "" {
		return "", fmt.Errorf("%w: empty file name", entity.ErrEmptyUpload)
	}

	tmp, err := os.CreateTemp(filepath.Join(s.absPath, stagingDir), "upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	written, copyErr := io.Copy(tmp, data)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && written == 0 {
		copyErr = fmt.Errorf("%w: empty file", entity.ErrEmptyUpload)
	}
	if copyErr != nil {
		os.Remove(tmpName)
		return "", copyErr
	}

	stored := uuid.NewString() + "_" + base
	if err := os.Rename(tmpName, filepath.Join(s.absPath, stored)); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return filepath.Join(s.basePath, stored), nil
}

func (s *fileStorage) Open(ref string) (io.ReadCloser, error) {
	fullPath, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, notFound(err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a file", entity.ErrInvalidBlobRef, ref)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, notFound(err)
	}
	return file, nil
}

func (s *fileStorage) Delete(ref string) error {
	fullPath, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *fileStorage) Exists(ref string) bool {
	fullPath, err := s.Resolve(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// List returns the regular files directly under the root.
func (s *fileStorage) List() ([]entity.BlobInfo, error) {
	entries, err := os.ReadDir(s.absPath)
	if err != nil {
		return nil, err
	}

	blobs := make([]entity.BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || hidden(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		blobs = append(blobs, entity.BlobInfo{
			Ref:     filepath.Join(s.basePath, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return blobs, nil
}

// Resolve maps a reference to an absolute path inside the root. Both
// "<root>/<name>" and bare "<name>" are accepted; anything that escapes
// the root or names a dot-prefixed entry is rejected.
func (s *fileStorage) Resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" || strings.ContainsRune(ref, 0) {
		return "", fmt.Errorf("%w: empty reference", entity.ErrInvalidBlobRef)
	}

	clean := filepath.Clean(ref)
	candidate, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrInvalidBlobRef, err)
	}
	if !s.contains(candidate) && !filepath.IsAbs(clean) && !strings.ContainsRune(clean, filepath.Separator) {
		candidate = filepath.Join(s.absPath, clean)
	}
	if !s.contains(candidate) {
		return "", fmt.Errorf("%w: %s is outside the blob root", entity.ErrInvalidBlobRef, ref)
	}
	rel, _ := filepath.Rel(s.absPath, candidate)
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if hidden(part) {
			return "", fmt.Errorf("%w: %s is not a stored blob", entity.ErrInvalidBlobRef, ref)
		}
	}
	return candidate, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (s *fileStorage) contains(path string) bool {
	rel, err := filepath.Rel(s.absPath, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	switch base {
	case ".", "..", "/":
		return ""
	}
	return strings.TrimSpace(base)
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", entity.ErrBlobNotFound, err)
	}
	return err
}
