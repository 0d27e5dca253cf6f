package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File persists keys into a single JSON document on disk. Writes go
// through a temp file and rename so a crash never leaves a torn marker;
// the gateway bridge depends on the marker write being durable before the
// browser navigates away.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile constructs a file-backed store at the given path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("kvstore: file path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: create state dir: %w", err)
		}
	}
	return &File{path: path}, nil
}

// Get returns the stored value or ErrKeyNotFound.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return nil, err
	}
	value, ok := values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// Set stores the value under key and flushes the document to disk before
// returning.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	dup := make(json.RawMessage, len(value))
	copy(dup, value)
	values[key] = dup
	return f.flush(values)
}

// Delete removes the key; deleting an absent key is not an error.
func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.flush(values)
}

func (f *File) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return make(map[string]json.RawMessage), nil
	}
	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("kvstore: parse %s: %w", f.path, err)
	}
	return values, nil
}

func (f *File) flush(values map[string]json.RawMessage) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("kvstore: marshal state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("kvstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("kvstore: replace %s: %w", f.path, err)
	}
	return nil
}
