package keystore

import (
	"context"
	"sync"
)

// Memory is a non-persistent Store.
type Memory struct {
	mutex  sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) SetString(_ context.Context, key, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) GetString(_ context.Context, key, def string) (string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return def, nil
	}
	return value, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values = map[string]string{}
	return nil
}
