package cache

import (
	"sort"
	"sync"
)

type MemStorage struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

// NewMemStorage creates an empty in-memory storage.
// It is meant for tests and short-lived caches.
func NewMemStorage() MemStorage {
	return MemStorage{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemStorage) EnsureNamespace(namespace string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[namespace]; !ok {
		m.db[namespace] = make(map[string][]byte)
	}
	return nil
}

func (m MemStorage) DeleteNamespace(namespace string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, namespace)
	return nil
}

func (m MemStorage) Namespaces() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStorage) Get(namespace, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries, ok := m.db[namespace]
	if !ok {
		return nil, false, nil
	}
	bytes, ok := entries[key]
	return bytes, ok, nil
}

func (m MemStorage) Match(namespace, path string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries, ok := m.db[namespace]
	if !ok {
		return nil, false, nil
	}
	if bytes, ok := entries[path]; ok {
		return bytes, true, nil
	}
	// deterministic pick among query variants
	keys := make([]string, 0, len(entries))
	for key := range entries {
		if matchesPath(key, path) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, false, nil
	}
	sort.Strings(keys)
	return entries[keys[0]], true, nil
}

func (m MemStorage) Put(namespace, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entries, ok := m.db[namespace]
	if !ok {
		entries = make(map[string][]byte)
		m.db[namespace] = entries
	}
	entries[key] = bytes
	return nil
}

func (m MemStorage) Delete(namespace, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if entries, ok := m.db[namespace]; ok {
		delete(entries, key)
	}
	return nil
}

func (m MemStorage) Keys(namespace string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[namespace]))
	for key := range m.db[namespace] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
