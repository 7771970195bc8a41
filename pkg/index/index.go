// Package index caches the calendar id each owner's calendar name resolves
// to, so that the calendar list is not fetched on every push.
package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

type CalendarIndex struct {
	Mappings map[string]string `json:"mappings"`
	Path     string            `json:"-"`
	mu       sync.RWMutex
	dirty    bool
}

// New returns an index backed by path. An empty path keeps the index in
// memory only.
func New(path string) (*CalendarIndex, error) {
	idx := &CalendarIndex{
		Mappings: make(map[string]string),
		Path:     path,
	}
	if path == "" {
		return idx, nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := idx.Load(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func key(ownerID, calendarName string) string {
	return ownerID + "/" + calendarName
}

func (idx *CalendarIndex) Load() error {
	f, err := os.Open(idx.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return json.NewDecoder(f).Decode(&idx.Mappings)
}

// Save writes the index if it changed since the last save.
func (idx *CalendarIndex) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.dirty || idx.Path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(idx.Path), 0700); err != nil {
		return err
	}
	f, err := os.Create(idx.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(idx.Mappings); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

func (idx *CalendarIndex) Get(ownerID, calendarName string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.Mappings[key(ownerID, calendarName)]
}

func (idx *CalendarIndex) Set(ownerID, calendarName, calendarID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := key(ownerID, calendarName)
	if idx.Mappings[k] != calendarID {
		idx.Mappings[k] = calendarID
		idx.dirty = true
	}
}

// Remove forgets a mapping, for example after the calendar was deleted.
func (idx *CalendarIndex) Remove(ownerID, calendarName string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := key(ownerID, calendarName)
	if _, exists := idx.Mappings[k]; exists {
		delete(idx.Mappings, k)
		idx.dirty = true
	}
}
