// Named string sets: trusted users, badword patterns, nickname patterns.
//
// Sets are seeded from a JSON file (a map of set name to list of values) and can be
// edited at runtime by admin commands.
package setstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
	Members(ctx context.Context, name string) ([]string, error)
	AddToSet(ctx context.Context, name, val string) error
	RemoveFromSet(ctx context.Context, name, val string) error
}

// Values are stored lower-cased; lookups are case-insensitive.
type MemSetStore struct {
	mu   sync.RWMutex
	Sets map[string]map[string]bool
}

var _ SetStore = (*MemSetStore)(nil)

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		Sets: make(map[string]map[string]bool),
	}
}

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.Sets[name]
	if !ok {
		// NOTE: currently returns false when entire set isn't found
		return false, nil
	}
	return set[strings.ToLower(val)], nil
}

// Returns the set members in sorted order. An unknown set is empty.
func (s *MemSetStore) Members(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.Sets[name]))
	for v := range s.Sets[name] {
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemSetStore) AddToSet(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.Sets[name]
	if !ok {
		set = make(map[string]bool)
		s.Sets[name] = set
	}
	set[strings.ToLower(val)] = true
	return nil
}

func (s *MemSetStore) RemoveFromSet(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Sets[name], strings.ToLower(val))
	return nil
}

func (s *MemSetStore) LoadFromFileJSON(p string) error {

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var sets map[string][]string
	if err := json.Unmarshal(raw, &sets); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, l := range sets {
		m := make(map[string]bool, len(l))
		for _, val := range l {
			m[strings.ToLower(val)] = true
		}
		s.Sets[name] = m
	}
	return nil
}
