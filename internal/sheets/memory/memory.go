package memory

import (
	"context"
	"fmt"
	"sync"

	"ledgersheet/internal/core"
	"ledgersheet/internal/sheets"
)

var _ sheets.DatasetPublisher = (*Store)(nil)

// Store keeps the last published grid per dataset in memory. It stands in
// for the Google adapter in tests and local runs.
type Store struct {
	mu        sync.Mutex
	grids     map[string][][]any
	publishes int
}

func New() *Store {
	return &Store{grids: make(map[string][][]any)}
}

// Publish replaces the stored grid for ds and returns a synthetic reference.
func (s *Store) Publish(_ context.Context, ds *core.Dataset) (string, error) {
	if ds == nil {
		return "", fmt.Errorf("nil dataset")
	}
	grid := sheets.Grid(ds)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[ds.Name] = grid
	s.publishes++
	return fmt.Sprintf("mem:%s:%d", ds.Name, len(grid)), nil
}

// Grid returns a copy of the last grid published for name.
func (s *Store) Grid(name string) ([][]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grids[name]
	if !ok {
		return nil, false
	}
	out := make([][]any, len(g))
	for i, r := range g {
		out[i] = append([]any(nil), r...)
	}
	return out, true
}

// Publishes counts successful Publish calls.
func (s *Store) Publishes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishes
}
