package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for local runs without a database.
type Memory struct {
	mu       sync.RWMutex
	students map[string]Student
	contacts map[string][]Contact
	events   []SosEvent
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		students: make(map[string]Student),
		contacts: make(map[string][]Contact),
		now:      time.Now,
	}
}

func (m *Memory) AddStudent(s Student, contacts ...Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
	m.contacts[s.ID] = append(m.contacts[s.ID], contacts...)
}

func (m *Memory) GetContacts(_ context.Context, studentID string) ([]Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.contacts[studentID]), nil
}

func (m *Memory) GetStudent(_ context.Context, studentID string) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[studentID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) InsertEvent(_ context.Context, event SosEvent) (SosEvent, error) {
	if err := validate(event); err != nil {
		return SosEvent{}, err
	}
	event.ID = uuid.NewString()
	event.CreatedAt = m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return event, nil
}

func (m *Memory) ListEvents(_ context.Context) ([]EventView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EventView, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		view := EventView{SosEvent: e}
		if s, ok := m.students[e.StudentID]; ok {
			view.StudentName = s.Name
			view.StudentEmail = s.Email
		}
		out = append(out, view)
	}
	slices.SortStableFunc(out, func(a, b EventView) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
