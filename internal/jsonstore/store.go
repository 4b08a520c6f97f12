// Package jsonstore keeps companion state as JSON files under one data
// directory. Writes are atomic and files may be sealed at rest.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"moxie_companion/internal/storage"
	"moxie_companion/internal/utils"
)

// Subdirectories created under the data directory
const (
	DirConversations = "conversations"
	DirProfiles      = "profiles"
	DirMemories      = "memories"
	DirUsage         = "usage"
	DirGames         = "games"
)

var subdirs = []string{DirConversations, DirProfiles, DirMemories, DirUsage, DirGames}

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")

	// ErrInvalidName is returned for names that escape the data directory
	ErrInvalidName = errors.New("invalid document name")

	// ErrSealedNoKey is returned when a sealed file is read without a key
	ErrSealedNoKey = errors.New("document is encrypted but no key is configured")
)

// Options configures a Store
type Options struct {
	// Encryption seals documents at rest when set
	Encryption *storage.Encryption
	CacheSize  int
	CacheTTL   time.Duration
}

// Store is a directory of JSON documents addressed by slash-separated names
// such as "conversations/<id>.json".
type Store struct {
	root   string
	enc    *storage.Encryption
	cache  *storage.LRUCache[[]byte]
	mu     sync.Mutex
	logger *utils.Logger

	settingsMu sync.Mutex
}

// Open creates the data directory layout under root and returns a Store
func Open(root string, opts Options) (*Store, error) {
	for _, dir := range append([]string{""}, subdirs...) {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	size := opts.CacheSize
	if size <= 0 {
		size = 128
	}

	return &Store{
		root:   root,
		enc:    opts.Encryption,
		cache:  storage.NewLRUCache[[]byte](size, opts.CacheTTL),
		logger: utils.NewLogger("jsonstore"),
	}, nil
}

// Root returns the data directory
func (s *Store) Root() string {
	return s.root
}

// Encrypted reports whether documents are sealed at rest
func (s *Store) Encrypted() bool {
	return s.enc != nil
}

func (s *Store) resolve(name string) (string, string, error) {
	if name == "" || strings.Contains(name, `\`) {
		return "", "", ErrInvalidName
	}
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", "", ErrInvalidName
	}
	return clean, filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Save writes v as indented JSON to name, replacing any previous document
// atomically.
func (s *Store) Save(name string, v any) error {
	key, file, err := s.resolve(name)
	if err != nil {
		return err
	}

	plain, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	data := plain
	if s.enc != nil {
		if data, err = s.enc.Seal(plain); err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(file, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.cache.Set(key, plain)
	return nil
}

// Load decodes the document at name into v
func (s *Store) Load(name string, v any) error {
	key, file, err := s.resolve(name)
	if err != nil {
		return err
	}

	plain, ok := s.cache.Get(key)
	if !ok {
		s.mu.Lock()
		plain, err = s.read(key, file)
		if err == nil {
			s.cache.Set(key, plain)
		}
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}

	if err := json.Unmarshal(plain, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) read(key, file string) ([]byte, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if !storage.IsSealed(data) {
		return data, nil
	}
	if s.enc == nil {
		return nil, ErrSealedNoKey
	}

	plain, err := s.enc.Open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return plain, nil
}

// Delete removes the document at name. Deleting a missing document is not
// an error.
func (s *Store) Delete(name string) error {
	key, file, err := s.resolve(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(key)
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a document is stored at name
func (s *Store) Exists(name string) bool {
	_, file, err := s.resolve(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(file)
	return err == nil
}

// List returns the names of the JSON documents directly inside dir, sorted
func (s *Store) List(dir string) ([]string, error) {
	key, full, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", key, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, path.Join(key, e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

func writeAtomic(file string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, file)
}
