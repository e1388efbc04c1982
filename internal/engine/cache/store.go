package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// cacheFileExtension is the file extension used for cache entries.
const cacheFileExtension = ".json"

// Common cache errors.
var (
	ErrCacheNotFound   = errors.New("cache entry not found")
	ErrCacheExpired    = errors.New("cache entry expired")
	ErrInvalidCacheKey = errors.New("cache key cannot be empty")
	ErrCacheDisabled   = errors.New("cache is disabled")
)

// FileStore is a file-based cache with TTL expiration. Safe for concurrent
// use within one process.
type FileStore struct {
	directory  string
	enabled    bool
	ttlSeconds int
	now        func() time.Time

	mu sync.RWMutex
}

// NewFileStore creates a store in directory, creating it if needed. A
// disabled store, or one with a zero TTL, answers every call with
// ErrCacheDisabled.
func NewFileStore(directory string, enabled bool, ttlSeconds int) (*FileStore, error) {
	if !enabled || ttlSeconds <= 0 {
		return &FileStore{enabled: false, now: time.Now}, nil
	}

	if directory == "" {
		return nil, errors.New("cache directory cannot be empty")
	}

	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{
		directory:  directory,
		enabled:    true,
		ttlSeconds: ttlSeconds,
		now:        time.Now,
	}, nil
}

// WithClock replaces the clock used for expiry.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Get retrieves a cache entry by key. An expired entry is removed and
// reported as ErrCacheExpired.
func (s *FileStore) Get(key string) (*Entry, error) {
	if !s.enabled {
		return nil, ErrCacheDisabled
	}
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	s.mu.RLock()
	filePath := s.keyToFilePath(key)
	data, err := os.ReadFile(filePath)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry Entry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", unmarshalErr)
	}

	if entry.ExpiredAt(s.now()) {
		s.mu.Lock()
		_ = os.Remove(filePath)
		s.mu.Unlock()
		return nil, ErrCacheExpired
	}

	return &entry, nil
}

// Set stores data under key, overwriting any existing entry.
func (s *FileStore) Set(key string, data json.RawMessage) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := NewEntry(key, data, s.ttlSeconds, s.now())
	entryData, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	filePath := s.keyToFilePath(key)

	// Write to a temporary file first, then rename for atomicity.
	tempPath := filePath + ".tmp"
	if writeErr := os.WriteFile(tempPath, entryData, 0o600); writeErr != nil {
		return fmt.Errorf("failed to write cache file: %w", writeErr)
	}
	if renameErr := os.Rename(tempPath, filePath); renameErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", renameErr)
	}

	return nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (s *FileStore) Delete(key string) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.keyToFilePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

// Clear removes every cache entry.
func (s *FileStore) Clear() error {
	if !s.enabled {
		return ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.eachFile(func(path string) error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove cache file %s: %w", filepath.Base(path), err)
		}
		return nil
	})
}

// CleanupExpired removes expired entries and returns how many were removed.
// Unreadable files are skipped.
func (s *FileStore) CleanupExpired() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	err := s.eachFile(func(path string) error {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		var entry Entry
		if json.Unmarshal(data, &entry) != nil {
			return nil
		}
		if entry.ExpiredAt(now) && os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// Stats summarizes the store's contents.
type Stats struct {
	Directory  string `json:"directory"`
	Entries    int    `json:"entries"`
	Bytes      int64  `json:"bytes"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Stats counts entries (including expired ones) and their total size.
func (s *FileStore) Stats() (Stats, error) {
	if !s.enabled {
		return Stats{}, ErrCacheDisabled
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Directory: s.directory, TTLSeconds: s.ttlSeconds}
	err := s.eachFile(func(path string) error {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil
		}
		st.Entries++
		st.Bytes += info.Size()
		return nil
	})
	return st, err
}

// IsEnabled returns true if caching is enabled.
func (s *FileStore) IsEnabled() bool {
	return s.enabled
}

// Directory returns the cache directory path.
func (s *FileStore) Directory() string {
	return s.directory
}

// TTL returns the entry lifetime.
func (s *FileStore) TTL() time.Duration {
	return time.Duration(s.ttlSeconds) * time.Second
}

func (s *FileStore) eachFile(fn func(path string) error) error {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != cacheFileExtension {
			continue
		}
		if err = fn(filepath.Join(s.directory, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// keyToFilePath converts a cache key to a filesystem-safe path.
func (s *FileStore) keyToFilePath(key string) string {
	safeKey := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
	return filepath.Join(s.directory, safeKey+cacheFileExtension)
}
