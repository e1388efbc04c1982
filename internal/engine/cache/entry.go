package cache

import (
	"encoding/json"
	"errors"
	"time"
)

// Entry is a single cached value with TTL metadata.
type Entry struct {
	// Key is the cache key (a SHA256 of the list filter).
	Key string `json:"key"`

	// Data is the cached value.
	Data json.RawMessage `json:"data"`

	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// NewEntry creates an entry created at now that expires ttlSeconds later.
func NewEntry(key string, data json.RawMessage, ttlSeconds int, now time.Time) *Entry {
	return &Entry{
		Key:        key,
		Data:       data,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(ttlSeconds) * time.Second),
		TTLSeconds: ttlSeconds,
	}
}

// ExpiredAt reports whether the entry has expired at now.
func (e *Entry) ExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Age returns how old the entry is at now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Remaining returns the time left before expiry, or 0.
func (e *Entry) Remaining(now time.Time) time.Duration {
	return max(e.ExpiresAt.Sub(now), 0)
}

// MarshalJSON formats times as RFC3339 for readability in cache files.
func (e *Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal(&struct {
		*Alias

		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{
		Alias:     (*Alias)(e),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		ExpiresAt: e.ExpiresAt.Format(time.RFC3339),
	})
}

// UnmarshalJSON parses the RFC3339 timestamps written by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	if e == nil {
		return errors.New("cannot unmarshal into nil Entry")
	}
	type Alias Entry
	aux := &struct {
		*Alias

		CreatedAt string `json:"created_at"`
		ExpiresAt string `json:"expires_at"`
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	e.CreatedAt, err = time.Parse(time.RFC3339, aux.CreatedAt)
	if err != nil {
		return err
	}
	e.ExpiresAt, err = time.Parse(time.RFC3339, aux.ExpiresAt)
	return err
}
