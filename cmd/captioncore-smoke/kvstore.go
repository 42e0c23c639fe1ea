package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// fileKVStore is a small JSON-file-backed implementation of
// [credstore.KVStore], standing in for a browser extension's storage.local
// in this standalone CLI. It is host glue, not part of the spec'd core.
type fileKVStore struct {
	path string
	mu   sync.Mutex
}

func newFileKVStore(path string) *fileKVStore {
	return &fileKVStore{path: path}
}

func (f *fileKVStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: read %q: %w", f.path, err)
	}
	m := map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("kvstore: decode %q: %w", f.path, err)
		}
	}
	return m, nil
}

func (f *fileKVStore) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", f.path, err)
	}
	return os.WriteFile(f.path, data, 0o600)
}

func (f *fileKVStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *fileKVStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = value
	return f.save(m)
}

func (f *fileKVStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	delete(m, key)
	return f.save(m)
}
