package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/henriblancke/dagster/internal/ir"
)

// MemoryStore is an in-memory event log, run store and cursor store.
//
// The exported *Err fields inject failures into the matching method. Call
// accounting (RunLookups, CursorHistory) lets tests assert how much work a
// tick did.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemoryStore struct {
	mu      sync.Mutex
	events  []ir.Event
	runs    map[string]ir.RunRecord
	cursors map[string]string
	history map[string][]string
	lookups []string
	nextID  int64

	EventsErr    error
	LatestErr    error
	RunErr       error
	CursorErr    error
	PutCursorErr error
}

// NewMemoryStore creates an empty store. The first appended event gets ID 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]ir.RunRecord),
		cursors: make(map[string]string),
		history: make(map[string][]string),
		nextID:  1,
	}
}

// AddRun inserts or replaces a run record.
func (s *MemoryStore) AddRun(run ir.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
}

// AppendEvent assigns the next ID to ev and appends it.
func (s *MemoryStore) AppendEvent(ev ir.Event) ir.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextID
	s.nextID++
	s.events = append(s.events, ev)
	return ev
}

// ReportRunStatus moves a known run to status and appends the matching
// lifecycle event, mirroring store.Store.ReportRunStatus.
func (s *MemoryStore) ReportRunStatus(runID string, status ir.RunStatus, at time.Time) (ir.Event, error) {
	eventType, err := ir.EventTypeForStatus(status)
	if err != nil {
		return ir.Event{}, err
	}

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return ir.Event{}, fmt.Errorf("report run status %s: %w", runID, ir.ErrRunNotFound)
	}
	run.Status = status
	run.UpdateTimestamp = at.UTC()
	s.runs[runID] = run
	s.mu.Unlock()

	return s.AppendEvent(ir.Event{
		Type:      eventType,
		RunID:     runID,
		JobName:   run.JobName,
		Timestamp: at.UTC(),
	}), nil
}

// EventRecords implements sensor.EventReader.
func (s *MemoryStore) EventRecords(_ context.Context, filter ir.EventFilter) ([]ir.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventsErr != nil {
		return nil, s.EventsErr
	}

	out := []ir.Event{}
	for _, ev := range s.events {
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if filter.AfterID >= 0 && ev.ID <= filter.AfterID {
			continue
		}
		out = append(out, ev)
	}
	if !filter.Ascending {
		slices.Reverse(out)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// LatestEventID implements sensor.EventReader.
func (s *MemoryStore) LatestEventID(_ context.Context, t ir.EventType) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LatestErr != nil {
		return 0, false, s.LatestErr
	}
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == t {
			return s.events[i].ID, true, nil
		}
	}
	return 0, false, nil
}

// Run implements sensor.RunReader.
func (s *MemoryStore) Run(_ context.Context, runID string) (ir.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, runID)
	if s.RunErr != nil {
		return ir.RunRecord{}, s.RunErr
	}
	run, ok := s.runs[runID]
	if !ok {
		return ir.RunRecord{}, fmt.Errorf("run %s: %w", runID, ir.ErrRunNotFound)
	}
	return run, nil
}

// Cursor implements sensor.CursorStore.
func (s *MemoryStore) Cursor(_ context.Context, sensorName string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CursorErr != nil {
		return "", false, s.CursorErr
	}
	c, ok := s.cursors[sensorName]
	return c, ok, nil
}

// PutCursor implements sensor.CursorStore.
func (s *MemoryStore) PutCursor(_ context.Context, sensorName, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutCursorErr != nil {
		return s.PutCursorErr
	}
	s.cursors[sensorName] = cursor
	s.history[sensorName] = append(s.history[sensorName], cursor)
	return nil
}

// CursorHistory returns every cursor written for sensorName, oldest first.
func (s *MemoryStore) CursorHistory(sensorName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[sensorName])
}

// RunLookups returns the run ids looked up so far, in order.
func (s *MemoryStore) RunLookups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lookups)
}

// ResetAccounting clears the recorded run lookups and cursor history.
func (s *MemoryStore) ResetAccounting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = nil
	s.history = make(map[string][]string)
}
