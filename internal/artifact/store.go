// Package artifact manages the capability artifact: the single Starlark file
// synthesized definitions are appended to, plus its baseline backup.
package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/hpungsan/lichen/internal/capability"
	"github.com/hpungsan/lichen/internal/errors"
)

// Preamble is written to a fresh artifact. It binds the directory builtins so
// synthesized bodies can call them by name.
var Preamble = preamble()

func preamble() string {
	quoted := make([]string, len(capability.PreambleBindings))
	for i, name := range capability.PreambleBindings {
		quoted[i] = strconv.Quote(name)
	}
	return "# Synthesized capabilities. Managed by lichen; definitions are appended.\n" +
		"load(\"directory\", " + strings.Join(quoted, ", ") + ")\n"
}

// Store owns the artifact and backup files.
// All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	path       string
	backupPath string
}

// NewStore returns a Store for the given artifact and backup paths.
func NewStore(path, backupPath string) *Store {
	return &Store{path: path, backupPath: backupPath}
}

// Path returns the artifact path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the backup path.
func (s *Store) BackupPath() string { return s.backupPath }

// InitIfAbsent writes the preamble when the artifact does not exist.
func (s *Store) InitIfAbsent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *Store) initLocked() error {
	if exists(s.path) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.NewPersistence("create artifact directory", err)
	}
	if err := WriteAtomic(s.path, []byte(Preamble)); err != nil {
		return errors.NewPersistence("initialize artifact", err)
	}
	return nil
}

// EnsureBackup snapshots the artifact to the backup path if no backup exists.
// An existing backup is never overwritten, so the first snapshot stays the baseline.
// When the artifact is absent the preamble is used. Reports whether a backup was created.
func (s *Store) EnsureBackup() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exists(s.backupPath) {
		return false, nil
	}

	data := []byte(Preamble)
	if exists(s.path) {
		var err error
		data, err = readNoFollow(s.path)
		if err != nil {
			return false, errors.NewPersistence("read artifact for backup", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.backupPath), 0700); err != nil {
		return false, errors.NewPersistence("create backup directory", err)
	}
	if err := WriteAtomic(s.backupPath, data); err != nil {
		return false, errors.NewPersistence("write backup", err)
	}
	return true, nil
}

// Append writes text to the end of the artifact in a single write and syncs.
// A missing artifact is initialized first.
func (s *Store) Append(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return err
	}

	f, err := openNoFollow(s.path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return errors.NewPersistence("open artifact", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return errors.NewPersistence("append to artifact", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.NewPersistence("sync artifact", err)
	}
	if err := f.Close(); err != nil {
		return errors.NewPersistence("close artifact", err)
	}
	return nil
}

// Read returns the current artifact contents.
func (s *Store) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readNoFollow(s.path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return "", err
		}
		return "", errors.NewPersistence("read artifact", err)
	}
	return string(data), nil
}

// ReadBackup returns the baseline snapshot contents.
func (s *Store) ReadBackup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readNoFollow(s.backupPath)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return "", err
		}
		return "", errors.NewPersistence("read backup", err)
	}
	return string(data), nil
}

// RestoreToBaseline replaces the artifact with the backup. Without a backup
// the artifact is removed and re-initialized, which is the baseline for a
// store that never had an extension.
func (s *Store) RestoreToBaseline() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exists(s.backupPath) {
		data, err := readNoFollow(s.backupPath)
		if err != nil {
			return errors.NewPersistence("read backup", err)
		}
		if err := WriteAtomic(s.path, data); err != nil {
			return errors.NewPersistence("restore artifact", err)
		}
		return nil
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.NewPersistence("remove artifact", err)
	}
	return s.initLocked()
}

// WriteAtomic writes data to a temp file beside path and renames it into place.
// A symlink at path is refused.
func WriteAtomic(path string, data []byte) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("refusing to replace symlink: " + path)
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("generate temp file name: %w", err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"

	f, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if f != nil {
			f.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	f = nil

	// os.Rename does not replace an existing file on Windows.
	if runtime.GOOS == "windows" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

func readNoFollow(path string) ([]byte, error) {
	f, err := openNoFollow(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
