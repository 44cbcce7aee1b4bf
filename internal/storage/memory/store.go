// Package memory is an in-process storage backend, optionally seeded from a
// YAML file. It is meant for development and tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/storage"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// measurementsPerOutput caps the kept history of each output.
const measurementsPerOutput = 1000

// Seed is the YAML layout of a seed file.
type Seed struct {
	MaxAmps  *float64        `yaml:"max_amps"`
	Outputs  []types.Output  `yaml:"outputs"`
	Triggers []types.Trigger `yaml:"triggers"`
}

type Store struct {
	mu           sync.RWMutex
	outputs      map[string]types.Output
	triggers     map[string]types.Trigger
	measurements map[string][]types.Measurement
	maxAmps      float64
}

func New(maxAmps float64) *Store {
	return &Store{
		outputs:      make(map[string]types.Output),
		triggers:     make(map[string]types.Trigger),
		measurements: make(map[string][]types.Measurement),
		maxAmps:      maxAmps,
	}
}

// LoadSeedFile fills the store from a YAML seed file.
func (s *Store) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	return s.LoadSeed(data)
}

func (s *Store) LoadSeed(data []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seed.MaxAmps != nil {
		s.maxAmps = *seed.MaxAmps
	}
	for _, out := range seed.Outputs {
		if out.ID == "" {
			out.ID = uuid.NewString()
		}
		s.outputs[out.ID] = out
	}
	for _, t := range seed.Triggers {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if _, ok := s.outputs[t.OutputID]; !ok {
			return fmt.Errorf("trigger %s references unknown output %s", t.ID, t.OutputID)
		}
		s.triggers[t.ID] = t
	}
	return nil
}

func (s *Store) LoadOutputs(ctx context.Context) ([]types.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outputs := make([]types.Output, 0, len(s.outputs))
	for _, out := range s.outputs {
		outputs = append(outputs, out)
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].ID < outputs[j].ID })
	return outputs, nil
}

func (s *Store) GetOutput(ctx context.Context, id string) (types.Output, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, ok := s.outputs[id]
	if !ok {
		return types.Output{}, fmt.Errorf("output %s: %w", id, storage.ErrNotFound)
	}
	return out, nil
}

// SaveOutput inserts or updates an output, keeping the runtime owned fields
// of an existing one.
func (s *Store) SaveOutput(ctx context.Context, out types.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.outputs[out.ID]; ok {
		out.LastDutyCycle = existing.LastDutyCycle
		out.OffUntil = existing.OffUntil
	}
	s.outputs[out.ID] = out
	return nil
}

func (s *Store) DeleteOutput(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outputs[id]; !ok {
		return fmt.Errorf("output %s: %w", id, storage.ErrNotFound)
	}
	delete(s.outputs, id)
	for tid, t := range s.triggers {
		if t.OutputID == id {
			delete(s.triggers, tid)
		}
	}
	return nil
}

func (s *Store) SetOffUntil(ctx context.Context, id string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[id]
	if !ok {
		return fmt.Errorf("output %s: %w", id, storage.ErrNotFound)
	}
	if until != nil {
		t := *until
		until = &t
	}
	out.OffUntil = until
	s.outputs[id] = out
	return nil
}

func (s *Store) SetLastDutyCycle(ctx context.Context, id string, duty float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[id]
	if !ok {
		return fmt.Errorf("output %s: %w", id, storage.ErrNotFound)
	}
	out.LastDutyCycle = duty
	s.outputs[id] = out
	return nil
}

func (s *Store) MaxAmps(ctx context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxAmps, nil
}

func (s *Store) SetMaxAmps(ctx context.Context, amps float64) error {
	s.mu.Lock()
	s.maxAmps = amps
	s.mu.Unlock()
	return nil
}

func (s *Store) ListTriggers(ctx context.Context) ([]types.Trigger, error) {
	return s.filterTriggers(func(types.Trigger) bool { return true }), nil
}

func (s *Store) ListOutputTriggers(ctx context.Context, outputID string) ([]types.Trigger, error) {
	return s.filterTriggers(func(t types.Trigger) bool { return t.OutputID == outputID }), nil
}

func (s *Store) SaveTrigger(ctx context.Context, t types.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outputs[t.OutputID]; !ok {
		return fmt.Errorf("output %s: %w", t.OutputID, storage.ErrNotFound)
	}
	s.triggers[t.ID] = t
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[id]; !ok {
		return fmt.Errorf("trigger %s: %w", id, storage.ErrNotFound)
	}
	delete(s.triggers, id)
	return nil
}

func (s *Store) WriteMeasurement(ctx context.Context, m types.Measurement) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.measurements[m.OutputID], m)
	if len(history) > measurementsPerOutput {
		history = history[len(history)-measurementsPerOutput:]
	}
	s.measurements[m.OutputID] = history
	return nil
}

// RecentMeasurements returns the newest measurements, newest first.
func (s *Store) RecentMeasurements(ctx context.Context, outputID string, limit int) ([]types.Measurement, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	history := append([]types.Measurement(nil), s.measurements[outputID]...)
	s.mu.RUnlock()

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})
	if len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (s *Store) Close() {}

func (s *Store) filterTriggers(keep func(types.Trigger) bool) []types.Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	triggers := make([]types.Trigger, 0)
	for _, t := range s.triggers {
		if keep(t) {
			triggers = append(triggers, t)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })
	return triggers
}

var _ storage.Store = (*Store)(nil)
