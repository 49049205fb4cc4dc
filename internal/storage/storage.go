// Package storage persists persona states and the audience memory map
// in a JSON-file key-value store. Values come back from the store as
// generic maps, so reads go through a marshal roundtrip to get typed
// records.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/keshon/datastore"

	"github.com/keshon/chatpal-brain/internal/memory"
	"github.com/keshon/chatpal-brain/internal/persona"
)

const (
	personaKeyPrefix = "persona:"
	audienceKey      = "audience"
)

type Storage struct {
	ds *datastore.DataStore
}

func New(filePath string) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}
	return &Storage{ds: ds}, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// Flush forces an immediate write to disk. The store also saves on a
// background interval and on Close.
func (s *Storage) Flush() error {
	return s.ds.SaveToFile()
}

func decode(data any, out any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal stored value: %w", err)
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("unmarshal stored value: %w", err)
	}
	return nil
}

// GetPersonaState loads the persisted state for a scope. The second
// return is false when no state was ever saved for that scope.
func (s *Storage) GetPersonaState(scopeID string) (*persona.State, bool, error) {
	data, exists := s.ds.Get(personaKeyPrefix + scopeID)
	if !exists {
		return nil, false, nil
	}
	var state persona.State
	if err := decode(data, &state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func (s *Storage) PutPersonaState(state *persona.State) error {
	if state == nil || state.ScopeID == "" {
		return fmt.Errorf("persona state without scope id")
	}
	s.ds.Add(personaKeyPrefix+state.ScopeID, state)
	return nil
}

// LoadAudience returns the full audience memory map, empty when
// nothing was saved yet.
func (s *Storage) LoadAudience() (map[string]*memory.UserRecord, error) {
	data, exists := s.ds.Get(audienceKey)
	if !exists {
		return map[string]*memory.UserRecord{}, nil
	}
	var audience map[string]*memory.UserRecord
	if err := decode(data, &audience); err != nil {
		return nil, err
	}
	if audience == nil {
		audience = map[string]*memory.UserRecord{}
	}
	return audience, nil
}

func (s *Storage) SaveAudience(audience map[string]*memory.UserRecord) error {
	s.ds.Add(audienceKey, audience)
	return nil
}

// Stats exposes the underlying store statistics for diagnostics.
func (s *Storage) Stats() map[string]any {
	return s.ds.Stats()
}
