package adb

import "sync"

// PropertyCache stores system property values per serial.
type PropertyCache interface {
	Get(serial, prop string) (string, bool)
	Put(serial, prop, value string)
}

// NewPropertyCache returns an in-memory cache whose entries never expire.
// A serial that is reused by a different device keeps the old values.
func NewPropertyCache() PropertyCache {
	return &memoryPropertyCache{values: make(map[string]map[string]string)}
}

type memoryPropertyCache struct {
	mu     sync.Mutex
	values map[string]map[string]string
}

func (m *memoryPropertyCache) Get(serial, prop string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[serial][prop]
	return v, ok
}

func (m *memoryPropertyCache) Put(serial, prop, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	props := m.values[serial]
	if props == nil {
		props = make(map[string]string)
		m.values[serial] = props
	}
	props[prop] = value
}
