package cache

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Cache.
type Memory struct {
	mu     sync.RWMutex
	cargos map[string]*memCargo
	locked map[string]bool
}

type memCargo struct {
	active string
	tags   map[string]map[string][]byte
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{cargos: make(map[string]*memCargo), locked: make(map[string]bool)}
}

// TryLock locks a cargo for every user of this Memory.
func (m *Memory) TryLock(cargoID string) (func(), error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[cargoID] {
		return nil, ErrLocked
	}
	m.locked[cargoID] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.locked, cargoID)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) cargo(id string, create bool) *memCargo {
	c := m.cargos[id]
	if c == nil && create {
		c = &memCargo{tags: make(map[string]map[string][]byte)}
		m.cargos[id] = c
	}
	return c
}

func (m *Memory) Put(ctx context.Context, cargoID, tag, p string, data []byte) error {
	key, err := validateFile(cargoID, tag, p)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cargo(cargoID, true)
	if c.tags[tag] == nil {
		c.tags[tag] = make(map[string][]byte)
	}
	c.tags[tag][key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(ctx context.Context, cargoID, tag, p string) ([]byte, error) {
	key, err := validateFile(cargoID, tag, p)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.cargo(cargoID, false)
	if c == nil {
		return nil, ErrNotFound
	}
	data, ok := c.tags[tag][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) List(ctx context.Context, cargoID, tag string) (map[string]int64, error) {
	if err := validateNamespace(cargoID, tag); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	if c := m.cargo(cargoID, false); c != nil {
		for k, v := range c.tags[tag] {
			out[k] = int64(len(v))
		}
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, cargoID, tag, p string) error {
	key, err := validateFile(cargoID, tag, p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.cargo(cargoID, false); c != nil {
		delete(c.tags[tag], key)
	}
	return nil
}

func (m *Memory) DeleteAll(ctx context.Context, cargoID, tag string) error {
	if err := validateNamespace(cargoID, tag); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.cargo(cargoID, false); c != nil {
		delete(c.tags, tag)
	}
	return nil
}

func (m *Memory) Active(ctx context.Context, cargoID string) (string, error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.cargo(cargoID, false); c != nil {
		return c.active, nil
	}
	return "", nil
}

func (m *Memory) Tags(ctx context.Context, cargoID string) ([]string, error) {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var tags []string
	if c := m.cargo(cargoID, false); c != nil {
		for t := range c.tags {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

func (m *Memory) SwapNamespace(ctx context.Context, cargoID, from, to string) error {
	if err := validateNamespace(cargoID, to); err != nil {
		return err
	}
	if from == to {
		return ErrSwapConflict
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cargo(cargoID, true)
	if c.active != from {
		return ErrSwapConflict
	}
	c.active = to
	if c.tags[to] == nil {
		c.tags[to] = make(map[string][]byte)
	}
	if from != "" {
		delete(c.tags, from)
	}
	return nil
}

func (m *Memory) ClearActive(ctx context.Context, cargoID string) error {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.cargo(cargoID, false); c != nil {
		c.active = ""
	}
	return nil
}

// validateNamespace checks the cargo id and tag.
func validateNamespace(cargoID, tag string) error {
	if err := checkSegment("cargo id", cargoID); err != nil {
		return err
	}
	return checkSegment("tag", tag)
}

// validateFile checks the namespace and returns the cleaned file key.
func validateFile(cargoID, tag, p string) (string, error) {
	if err := validateNamespace(cargoID, tag); err != nil {
		return "", err
	}
	return CleanPath(p)
}
