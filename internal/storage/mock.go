package storage

import (
	"fmt"
	"reflect"
	"sync"
)

// MockStorage keeps the stored values in memory.
type MockStorage struct {
	mutex    *sync.RWMutex
	Elements map[Key]interface{}
}

func NewMockStorage() *MockStorage {
	return &MockStorage{
		mutex:    new(sync.RWMutex),
		Elements: make(map[Key]interface{}),
	}
}

func (m *MockStorage) Store(k Key, value interface{}) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Elements[k] = value
	return nil
}

// Load assigns the stored value to the given pointer, if the types match.
func (m *MockStorage) Load(k Key, value interface{}) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	v, ok := m.Elements[k]
	if !ok {
		return fmt.Errorf("not found '%v': %w", k, NotFoundErr)
	}
	ptr := reflect.ValueOf(value)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("expected a pointer but got %T: %w", value, InvalidValueErr)
	}
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(ptr.Elem().Type()) {
		ptr.Elem().Set(src)
		return nil
	}
	if src.Kind() == reflect.Ptr && src.Elem().Type().AssignableTo(ptr.Elem().Type()) {
		ptr.Elem().Set(src.Elem())
		return nil
	}
	return fmt.Errorf("cannot load %T into %T: %w", v, value, CouldNotLoadErr)
}
