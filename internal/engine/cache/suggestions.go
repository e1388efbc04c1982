package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rshade/memctl/internal/remote"
)

// keyPrefix namespaces suggestion list keys.
const keyPrefix = "suggestions"

// FilterKey returns the deterministic cache key for a list filter.
func FilterKey(f remote.SuggestionFilter) string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString("|type=")
	b.WriteString(string(f.Type))
	b.WriteString("|status=")
	b.WriteString(f.Status)
	b.WriteString("|agent=")
	b.WriteString(f.AgentID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// SuggestionStore caches suggestion lists in a FileStore. A disabled store
// never hits and silently drops writes.
type SuggestionStore struct {
	files *FileStore
}

// NewSuggestionStore wraps files.
func NewSuggestionStore(files *FileStore) *SuggestionStore {
	return &SuggestionStore{files: files}
}

// Load returns the cached list for f if a live entry exists. Unreadable or
// expired entries are a miss.
func (s *SuggestionStore) Load(f remote.SuggestionFilter) ([]remote.Suggestion, bool) {
	entry, err := s.files.Get(FilterKey(f))
	if err != nil {
		return nil, false
	}
	var list []remote.Suggestion
	if err = json.Unmarshal(entry.Data, &list); err != nil {
		return nil, false
	}
	return list, true
}

// Store caches list under f.
func (s *SuggestionStore) Store(f remote.SuggestionFilter, list []remote.Suggestion) error {
	if list == nil {
		list = []remote.Suggestion{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding suggestion list: %w", err)
	}
	if err = s.files.Set(FilterKey(f), data); err != nil && !errors.Is(err, ErrCacheDisabled) {
		return err
	}
	return nil
}

// Invalidate drops every cached list.
func (s *SuggestionStore) Invalidate() error {
	if err := s.files.Clear(); err != nil && !errors.Is(err, ErrCacheDisabled) {
		return err
	}
	return nil
}
