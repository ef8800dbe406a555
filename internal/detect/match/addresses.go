package match

import (
	"strings"
	"sync"
)

// AddressSet is a case-insensitive set of affiliate identifiers.
type AddressSet struct {
	values map[string]struct{}
	mu     sync.RWMutex
}

// NewAddressSet creates a set preloaded with the given values.
func NewAddressSet(values ...string) *AddressSet {
	s := &AddressSet{
		values: make(map[string]struct{}),
	}
	s.AddBatch(values)
	return s
}

// Contains checks if a value is in the set.
func (s *AddressSet) Contains(value string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.values[strings.ToLower(value)]
	return exists
}

// Add adds a value to the set.
func (s *AddressSet) Add(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[strings.ToLower(value)] = struct{}{}
}

// AddBatch adds multiple values.
func (s *AddressSet) AddBatch(values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.values[strings.ToLower(v)] = struct{}{}
	}
}

// Size returns the number of values in the set.
func (s *AddressSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Values returns all values in the set.
func (s *AddressSet) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]string, 0, len(s.values))
	for v := range s.values {
		result = append(result, v)
	}
	return result
}
