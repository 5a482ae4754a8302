// Package artifact persists uploaded napp binaries under a per-author
// directory and maintains the per-package "latest" pointer.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"napps/internal/models"
)

// Ext is the only artifact extension the registry accepts.
const Ext = ".napp"

var ErrInvalidPath = errors.New("invalid artifact path")

type Store struct {
	root     string
	maxBytes int64
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(root string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root directory is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max upload bytes must be > 0")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root directory: %w", err)
	}

	return &Store{
		root:     root,
		maxBytes: maxBytes,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Allowed reports whether the declared filename carries the accepted
// extension. A bare extension with no stem is not a filename.
func Allowed(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == Ext && strings.TrimSuffix(filepath.Base(filename), ext) != ""
}

// NextVersionName builds the next versioned filename for the package:
// <name><YYYYMMDD>-<counter>.napp, where the counter is one past the highest
// counter already present for today, starting at 0.
func (s *Store) NextVersionName(author, name string) (string, error) {
	basename := name + s.now().UTC().Format("20060102")
	pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(basename) + `-(\d+)` + regexp.QuoteMeta(Ext) + `$`)
	if err != nil {
		return "", fmt.Errorf("compiling version pattern: %w", err)
	}

	counter := -1
	entries, err := os.ReadDir(filepath.Join(s.root, author))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("scanning author directory: %w", err)
	}
	for _, entry := range entries {
		matched := pattern.FindStringSubmatch(entry.Name())
		if matched == nil {
			continue
		}
		n, err := strconv.Atoi(matched[1])
		if err != nil {
			continue
		}
		if n > counter {
			counter = n
		}
	}

	return fmt.Sprintf("%s-%d%s", basename, counter+1, Ext), nil
}

// Store writes the uploaded binary under the author's directory using the
// next versioned name and returns that name. The whole scan-then-write runs
// under a per-(author, name) lock so concurrent uploads cannot compute the
// same counter.
func (s *Store) Store(author, name string, src io.Reader, declaredFilename string) (string, error) {
	if !Allowed(declaredFilename) {
		return "", fmt.Errorf("%w: extension of %q not allowed", models.ErrInvalidFile, declaredFilename)
	}

	lock := s.packageLock(author, name)
	lock.Lock()
	defer lock.Unlock()

	filename, err := s.NextVersionName(author, name)
	if err != nil {
		return "", err
	}

	absPath, err := s.resolve(author, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("creating author directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), "upload-"+uuid.NewString()+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temporary artifact file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	written, err := io.Copy(tmpFile, io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("writing artifact file: %w", err)
	}
	if written > s.maxBytes {
		return "", fmt.Errorf("%w: artifact exceeds %d bytes", models.ErrInvalidFile, s.maxBytes)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temporary artifact file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return "", fmt.Errorf("finalizing artifact file: %w", err)
	}

	return filename, nil
}

// UpdateLatestPointer points <name>-latest.napp at the stored file. The
// pointer is built as a symlink under a temporary name and moved into place
// with a rename, which atomically replaces any previous pointer.
func (s *Store) UpdateLatestPointer(author, name, storedFilename string) error {
	linkPath, err := s.resolve(author, name+"-latest"+Ext)
	if err != nil {
		return err
	}
	if _, err := s.resolve(author, storedFilename); err != nil {
		return err
	}

	tmpPath := filepath.Join(filepath.Dir(linkPath), ".latest-"+uuid.NewString())
	if err := os.Symlink(storedFilename, tmpPath); err != nil {
		return fmt.Errorf("creating latest pointer: %w", err)
	}
	if err := os.Rename(tmpPath, linkPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("swapping latest pointer: %w", err)
	}

	return nil
}

// Open serves a stored artifact by exact filename, confined to the root.
func (s *Store) Open(author, filename string) (*os.File, error) {
	absPath, err := s.resolve(author, filename)
	if err != nil {
		return nil, err
	}
	return os.Open(absPath)
}

func (s *Store) resolve(author, filename string) (string, error) {
	clean := filepath.Clean(filepath.Join(author, filename))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Store) packageLock(author, name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := author + "/" + name
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}
