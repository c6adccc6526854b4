// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/finfleet/policyd/internal/device"
)

// MemoryStore is the in-memory reference repository. A single mutex guards
// all tables; every operation is linearizable.
type MemoryStore struct {
	mu       sync.Mutex
	devices  map[string]device.State
	audit    []AuditRecord
	commands []CommandEntry
	txns     map[string]struct{}
}

// NewMemoryStore returns an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]device.State),
		txns:    make(map[string]struct{}),
	}
}

func (s *MemoryStore) GetState(_ context.Context, serial string) (device.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.devices[serial]
	return state, ok, nil
}

func (s *MemoryStore) PutState(_ context.Context, serial string, state device.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[serial] = state
	return nil
}

func (s *MemoryStore) DeleteDevice(_ context.Context, serial string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[serial]; !ok {
		return 0, 0, ErrNotFound
	}
	delete(s.devices, serial)

	removedAudit := 0
	keptAudit := s.audit[:0]
	for _, rec := range s.audit {
		if rec.Serial == serial {
			removedAudit++
			continue
		}
		keptAudit = append(keptAudit, rec)
	}
	s.audit = keptAudit

	removedCommands := 0
	keptCommands := s.commands[:0]
	for _, c := range s.commands {
		if c.Serial == serial {
			removedCommands++
			continue
		}
		keptCommands = append(keptCommands, c)
	}
	s.commands = keptCommands

	return removedAudit, removedCommands, nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, rec)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, serial string) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, 0)
	for _, rec := range s.audit {
		if rec.Serial == serial {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) EnqueueCommand(_ context.Context, entry CommandEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, entry)
	return nil
}

func (s *MemoryStore) ListPendingCommands(_ context.Context, serial string) ([]CommandEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CommandEntry, 0)
	for _, c := range s.commands {
		if c.Serial == serial && !c.Acknowledged {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) AckCommand(_ context.Context, id string) (CommandEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.commands {
		if s.commands[i].ID == id {
			s.commands[i].Acknowledged = true
			return s.commands[i], nil
		}
	}
	return CommandEntry{}, ErrNotFound
}

func (s *MemoryStore) MarkTxn(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[id] = struct{}{}
	return nil
}

func (s *MemoryStore) HasTxn(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.txns[id]
	return ok, nil
}

func (s *MemoryStore) ListDevices(_ context.Context) ([]DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceStatus, 0, len(s.devices))
	for serial, state := range s.devices {
		out = append(out, DeviceStatus{Serial: serial, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

func (s *MemoryStore) ScanDevicesInStates(_ context.Context, states []device.State) ([]DeviceStatus, error) {
	wanted := make(map[device.State]struct{}, len(states))
	for _, st := range states {
		wanted[st] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceStatus, 0)
	for serial, state := range s.devices {
		if _, ok := wanted[state]; ok {
			out = append(out, DeviceStatus{Serial: serial, State: state})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

func (s *MemoryStore) CommitTransition(_ context.Context, tr Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[tr.Serial] = tr.NewState
	s.audit = append(s.audit, tr.Audit)
	if tr.Command != nil {
		s.commands = append(s.commands, *tr.Command)
	}
	if tr.TransactionID != "" {
		s.txns[tr.TransactionID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
